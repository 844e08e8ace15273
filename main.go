package main

import (
	"FeiLiu/cmd"
)

func main() {
	cmd.Execute()
}
