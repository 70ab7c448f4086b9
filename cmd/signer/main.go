// Command signer signs and verifies XML messages and serves a signed SOAP
// endpoint.
package main

func main() {
	Execute()
}
