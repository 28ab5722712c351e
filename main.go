package main

import "finalize/internal/finalize"

func main() {
	finalize.Main()
}
