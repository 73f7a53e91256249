// Command rfd runs goals through ephemeral Retain-Focus-Delete workers.
package main

import (
	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is normal; real environment variables still apply.
	_ = godotenv.Load()
	Execute()
}
