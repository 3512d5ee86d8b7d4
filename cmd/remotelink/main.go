// Command remotelink serves or connects a secure remote-control channel.
package main

func main() {
	Execute()
}
