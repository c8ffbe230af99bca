package main

import "github.com/pcrpg2df4s-blip/dietweb/cmd/dietweb"

func main() {
	dietweb.Execute()
}
