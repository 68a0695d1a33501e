// Command pagealloc boots the physical page allocator over a simulated RAM
// arena and exercises it from the command line.
package main

func main() {
	execute()
}
