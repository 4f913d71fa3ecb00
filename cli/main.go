// Command photosync mirrors a Google Photos library into a local directory.
package main

import "os"

func main() {
	os.Exit(Execute())
}
