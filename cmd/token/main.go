// Command token issues an access/refresh token pair for the operational API.
//
//	go run ./cmd/token -user ops-1 -role operator
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"callconfirm/internal/auth"
	"callconfirm/internal/config"
	"callconfirm/internal/rbac"
)

func main() {
	user := flag.String("user", "", "operator id to embed in the token")
	role := flag.String("role", rbac.RoleViewer, "role: admin, operator or viewer")
	flag.Parse()

	if err := run(*user, *role); err != nil {
		fmt.Fprintln(os.Stderr, "token:", err)
		os.Exit(1)
	}
}

func run(user, role string) error {
	if user == "" {
		return fmt.Errorf("-user is required")
	}
	if !rbac.Known(role) {
		return fmt.Errorf("unknown role %q", role)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	m, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return err
	}
	pair, err := m.IssuePair(time.Now(), auth.Operator{ID: user, Role: role})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(pair)
}
