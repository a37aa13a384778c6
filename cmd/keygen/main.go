package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/peteollama/jamie-gateway/internal/auth"
)

func main() {
	env := flag.String("env", "prod", "environment prefix")
	flag.Parse()

	token, err := auth.GenerateToken(*env)
	if err != nil {
		log.Fatalf("failed to generate token: %v", err)
	}

	fmt.Println("=== Jamie Gateway Token Generated ===")
	fmt.Println()
	fmt.Printf("  Prefix: %s\n", auth.TokenPrefix(token))
	fmt.Println()
	fmt.Println("  Token (save this, it will NOT be shown again):")
	fmt.Printf("  %s\n", token)
	fmt.Println()
	fmt.Println("  Set it as VAPI_API_KEY on the gateway and as the")
	fmt.Println("  bearer credential on the VAPI assistant.")
	fmt.Println("=====================================")
}
