package main

import "github.com/plagiascan/plagiascan-cli/cmd"

func main() {
	cmd.Execute()
}
