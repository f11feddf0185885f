package main

import "github.com/apodwall/vbuild/cmd/vbuild/internal"

func main() {
	internal.Execute()
}
