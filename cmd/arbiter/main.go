// Command arbiter runs the federated-learning policy service and its
// edge-side fallback enforcer.
package main

func main() {
	Execute()
}
