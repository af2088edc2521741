// sdlc-console - workspace backend for the SDLC automation dashboard
package main

import "github.com/workspace/sdlc-console/cmd"

func main() {
	cmd.Execute()
}
