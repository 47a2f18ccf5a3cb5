// Package main is the entry point for mergedash.
package main

func main() {
	Execute()
}
