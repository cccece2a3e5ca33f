package main

import "ragdesk/client/rag-cli/cmd"

func main() {
	cmd.Execute()
}
