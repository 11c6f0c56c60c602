package main

import "github.com/starpig1129/pigpig-core/cmd"

func main() {
	cmd.Execute()
}
