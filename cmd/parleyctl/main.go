package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/store"
	"golang.org/x/term"
)

func main() {
	dataDirFlag := flag.String("data-dir", "", "data directory (default ~/.parley)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	dataDir := *dataDirFlag
	if dataDir == "" {
		dataDir = config.BaseDir()
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	db, err := store.Open(config.DBPath(dataDir))
	if err != nil {
		fatalf("open store: %v", err)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Migrate(); err != nil {
		fatalf("migrate: %v", err)
	}

	switch args[0] {
	case "adduser":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: parleyctl adduser <username> [known-as]")
			os.Exit(1)
		}
		knownAs := ""
		if len(args) >= 3 {
			knownAs = args[2]
		}
		cmdAddUser(db, args[1], knownAs)
	case "passwd":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: parleyctl passwd <username>")
			os.Exit(1)
		}
		cmdPasswd(db, args[1])
	case "confirm-email":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: parleyctl confirm-email <username>")
			os.Exit(1)
		}
		cmdConfirmEmail(db, args[1])
	case "ban":
		cmdBan(db, args[1:])
	case "unban":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: parleyctl unban <username>")
			os.Exit(1)
		}
		cmdUnban(db, args[1])
	case "users":
		cmdUsers(db, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: parleyctl [--data-dir <dir>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  adduser <username> [known-as]          Create an account (prompts for password)")
	fmt.Fprintln(os.Stderr, "  passwd <username>                      Change a password")
	fmt.Fprintln(os.Stderr, "  confirm-email <username>               Mark the account's email confirmed")
	fmt.Fprintln(os.Stderr, "  ban <username> [--reason r] [--for d]  Ban; --for makes it temporary, else permanent")
	fmt.Fprintln(os.Stderr, "  unban <username>                       Lift a ban")
	fmt.Fprintln(os.Stderr, "  users                                  List accounts")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func lookupUser(db *store.DB, name string) *store.User {
	u, err := db.GetUserByName(name)
	if err != nil {
		fatalf("%v", err)
	}
	if u == nil {
		fatalf("no such user %q", name)
	}
	return u
}

func readPassword(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fatalf("read password: %v", err)
	}
	if len(pw) == 0 {
		fatalf("password must not be empty")
	}
	return string(pw)
}

func cmdAddUser(db *store.DB, name, knownAs string) {
	if err := store.ValidateUserName(name); err != nil {
		fatalf("%v", err)
	}
	if existing, err := db.GetUserByName(name); err != nil {
		fatalf("%v", err)
	} else if existing != nil {
		fatalf("user %q already exists", name)
	}

	hash, salt, err := auth.HashPassword(readPassword("password: "))
	if err != nil {
		fatalf("%v", err)
	}
	u := &store.User{
		UserName:     name,
		KnownAs:      knownAs,
		PasswordHash: hash,
		PasswordSalt: salt,
	}
	if err := db.CreateUser(u); err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("created user %q (id %d); email unconfirmed\n", name, u.ID)
}

func cmdPasswd(db *store.DB, name string) {
	u := lookupUser(db, name)
	hash, salt, err := auth.HashPassword(readPassword("new password: "))
	if err != nil {
		fatalf("%v", err)
	}
	if err := db.UpdatePassword(u.ID, hash, salt); err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("password updated for %q\n", name)
}

func cmdConfirmEmail(db *store.DB, name string) {
	u := lookupUser(db, name)
	if err := db.SetEmailConfirmed(u.ID, true); err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("email confirmed for %q\n", name)
}

func cmdBan(db *store.DB, args []string) {
	fs := flag.NewFlagSet("ban", flag.ExitOnError)
	reason := fs.String("reason", "", "ban reason")
	forDur := fs.Duration("for", 0, "ban duration; zero means permanent")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: parleyctl ban <username> [--reason r] [--for d]")
		os.Exit(1)
	}

	u := lookupUser(db, fs.Arg(0))
	var expiry *int64
	permanent := *forDur <= 0
	if !permanent {
		at := time.Now().Add(*forDur).UnixMilli()
		expiry = &at
	}
	if err := db.BanUser(u.ID, *reason, permanent, expiry); err != nil {
		fatalf("%v", err)
	}
	if permanent {
		fmt.Printf("permanently banned %q\n", u.UserName)
	} else {
		fmt.Printf("banned %q until %s\n", u.UserName, time.UnixMilli(*expiry).Format(time.RFC3339))
	}
}

func cmdUnban(db *store.DB, name string) {
	u := lookupUser(db, name)
	if err := db.UnbanUser(u.ID); err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("unbanned %q\n", name)
}

func cmdUsers(db *store.DB, jsonOut bool) {
	users, err := db.ListUsers()
	if err != nil {
		fatalf("%v", err)
	}
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		type userOut struct {
			ID             int64  `json:"id"`
			UserName       string `json:"username"`
			KnownAs        string `json:"knownAs,omitempty"`
			EmailConfirmed bool   `json:"emailConfirmed"`
			Banned         bool   `json:"banned"`
		}
		out := make([]userOut, 0, len(users))
		for _, u := range users {
			out = append(out, userOut{u.ID, u.UserName, u.KnownAs, u.EmailConfirmed, u.IsBanned})
		}
		if err := enc.Encode(out); err != nil {
			fatalf("%v", err)
		}
		return
	}
	for _, u := range users {
		status := "ok"
		switch {
		case u.IsBanned && u.IsPermanentBan:
			status = "banned (permanent)"
		case u.IsBanned:
			status = "banned"
		case !u.EmailConfirmed:
			status = "email unconfirmed"
		}
		fmt.Printf("%6d  %-32s  %s\n", u.ID, u.UserName, status)
	}
}
