// Command procguard supervises a child process tree.
package main

func main() {
	Execute()
}
