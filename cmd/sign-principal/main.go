package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/slhuckstead/accountmap/internal/services"
)

// sign-principal prints the identity headers a trusted proxy would attach,
// for calling the admin API in local development.
func main() {
	godotenv.Load()

	// Flags
	subject := flag.String("subject", "local-admin", "Principal id")
	groups := flag.String("groups", os.Getenv("AZURE_ADMIN_GROUP_ID"), "Comma-separated group ids")
	asCurl := flag.Bool("curl", false, "Print as curl -H arguments")
	flag.Parse()

	secret := os.Getenv("PROXY_ATTESTATION_SECRET")
	if secret == "" {
		log.Fatal("PROXY_ATTESTATION_SECRET must be set")
	}

	var groupIDs []string
	for _, g := range strings.Split(*groups, ",") {
		if g = strings.TrimSpace(g); g != "" {
			groupIDs = append(groupIDs, g)
		}
	}

	header := services.AttestedHeaders([]byte(secret), *subject, groupIDs, time.Now())
	printHeaders(header, *asCurl)
}

func printHeaders(header http.Header, asCurl bool) {
	names := make([]string, 0, len(header))
	for name := range header {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if asCurl {
			fmt.Printf("-H '%s: %s' ", name, header.Get(name))
		} else {
			fmt.Printf("%s: %s\n", name, header.Get(name))
		}
	}
	if asCurl {
		fmt.Println()
	}
}
