// Command codevault serves and inspects versioned code projects.
//
// Usage:
//
//	API_KEY=secret DB_PATH=codevault.db codevault serve
//	codevault versions --session chat-123 --user u-42
package main

import "github.com/p-blackswan/codevault/internal/cli"

func main() {
	cli.Execute()
}
