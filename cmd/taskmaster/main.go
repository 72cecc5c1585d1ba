// Command taskmaster drives a list of development tasks to completion with a
// code-generation agent, validating each attempt with shell hooks.
package main

func main() {
	Execute()
}
