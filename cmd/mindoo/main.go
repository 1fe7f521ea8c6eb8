package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/amaydixit11/mindoo/internal/document"
	"github.com/amaydixit11/mindoo/internal/join"
	"github.com/amaydixit11/mindoo/internal/sync"
	"github.com/amaydixit11/mindoo/internal/tenant"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "create":
		cmdCreate(args)
	case "register":
		cmdRegister(args)
	case "revoke":
		cmdRevoke(args)
	case "join-request":
		cmdJoinRequest(args)
	case "join-approve":
		cmdJoinApprove(args)
	case "join-accept":
		cmdJoinAccept(args)
	case "serve":
		cmdServe(args)
	case "doc":
		cmdDoc(args)
	case "status":
		cmdStatus(args)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`mindoo - encrypted, multi-tenant, peer-synchronized document database

Usage: mindoo <command> [options]

Commands:
  create        Provision a new tenant (admin identity + directory)
  register      Register a new user's signing/encryption keys in the directory
  revoke        Revoke a registered user
  join-request  Generate a join request for a prospective member
  join-approve  Admin: approve a join request, producing a join response
  join-accept   Requester: finish joining with the admin's join response
  serve         Start the sync server over a tenant's databases
  doc           Create/get/list/update/delete documents in a database
  status        Show tenant status
  help          Show this help

Most commands take --data (default ~/.mindoo), --tenant and --user;
join-request and join-accept take their own flags instead.`)
}

func baseFlags(fs *flag.FlagSet) (dataDir, tenantID, username *string) {
	home, _ := os.UserHomeDir()
	dataDir = fs.String("data", filepath.Join(home, ".mindoo"), "Data directory")
	tenantID = fs.String("tenant", "", "Tenant id")
	username = fs.String("user", "", "Username")
	return
}

func readPassword(prompt string) []byte {
	fmt.Print(prompt)
	fd := int(syscall.Stdin)
	var pw []byte
	var err error
	if term.IsTerminal(fd) {
		pw, err = term.ReadPassword(fd)
		fmt.Println()
	} else {
		var line string
		_, err = fmt.Scanln(&line)
		pw = []byte(line)
	}
	if err != nil {
		log.Fatalf("reading password: %v", err)
	}
	return pw
}

func openTenant(dataDir, tenantID, username string, password []byte) *tenant.Tenant {
	f, err := tenant.NewFactory(dataDir)
	if err != nil {
		log.Fatalf("open tenant factory: %v", err)
	}
	tn, err := f.Open(tenantID, username, password)
	if err != nil {
		log.Fatalf("open tenant: %v", err)
	}
	return tn
}

func cmdCreate(args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	dataDir, tenantID, username := baseFlags(fs)
	fs.Parse(args)
	if *tenantID == "" || *username == "" {
		log.Fatal("create requires --tenant and --user")
	}

	pw1 := readPassword("Enter new admin password: ")
	pw2 := readPassword("Confirm admin password: ")
	if string(pw1) != string(pw2) {
		log.Fatal("passwords do not match")
	}

	f, err := tenant.NewFactory(*dataDir)
	if err != nil {
		log.Fatalf("open tenant factory: %v", err)
	}
	tn, err := f.Create(*tenantID, *username, pw1)
	if err != nil {
		log.Fatalf("create tenant: %v", err)
	}
	defer tn.Close()

	fmt.Printf("created tenant %q with admin %q\n", *tenantID, *username)
}

func cmdRegister(args []string) {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	dataDir, tenantID, username := baseFlags(fs)
	newUser := fs.String("new-user", "", "Username to register")
	signPub := fs.String("sign-pub", "", "New user's Ed25519 signing public key PEM")
	encPub := fs.String("enc-pub", "", "New user's RSA encryption public key PEM")
	fs.Parse(args)
	if *newUser == "" || *signPub == "" || *encPub == "" {
		log.Fatal("register requires --new-user, --sign-pub and --enc-pub")
	}

	pw := readPassword("Password: ")
	tn := openTenant(*dataDir, *tenantID, *username, pw)
	defer tn.Close()

	ctx := context.Background()
	if err := tn.Directory().RegisterUser(ctx, *newUser, *signPub, *encPub, time.Now().UnixMilli()); err != nil {
		log.Fatalf("register user: %v", err)
	}
	fmt.Printf("registered %q\n", *newUser)
}

func cmdRevoke(args []string) {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	dataDir, tenantID, username := baseFlags(fs)
	target := fs.String("target", "", "Username to revoke")
	fs.Parse(args)
	if *target == "" {
		log.Fatal("revoke requires --target")
	}

	pw := readPassword("Password: ")
	tn := openTenant(*dataDir, *tenantID, *username, pw)
	defer tn.Close()

	if err := tn.Directory().RevokeUser(context.Background(), *target); err != nil {
		log.Fatalf("revoke user: %v", err)
	}
	fmt.Printf("revoked %q\n", *target)
}

func cmdJoinRequest(args []string) {
	fs := flag.NewFlagSet("join-request", flag.ExitOnError)
	username := fs.String("user", "", "Username the requester wants to join as")
	out := fs.String("out", "join-request.json", "Output file for the join request URI")
	identityOut := fs.String("identity-out", "join-identity.json", "Output file for the locally-generated identity")
	fs.Parse(args)
	if *username == "" {
		log.Fatal("join-request requires --user")
	}

	pw1 := readPassword("Enter a password for the new identity: ")
	pw2 := readPassword("Confirm password: ")
	if string(pw1) != string(pw2) {
		log.Fatal("passwords do not match")
	}

	id, err := tenant.GenerateIdentity(*username, pw1, nil)
	if err != nil {
		log.Fatalf("generate identity: %v", err)
	}
	req := join.CreateJoinRequest(id.PublicIdentity)
	uriStr, err := join.EncodeRequestURI(req)
	if err != nil {
		log.Fatalf("encode join request: %v", err)
	}

	if err := writeJSONFile(*identityOut, id); err != nil {
		log.Fatalf("write identity file: %v", err)
	}
	if err := os.WriteFile(*out, []byte(uriStr), 0600); err != nil {
		log.Fatalf("write join request: %v", err)
	}
	fmt.Printf("join request written to %s, identity kept at %s\n", *out, *identityOut)
}

func cmdJoinApprove(args []string) {
	fs := flag.NewFlagSet("join-approve", flag.ExitOnError)
	dataDir, tenantID, username := baseFlags(fs)
	reqFile := fs.String("request", "join-request.json", "Join request URI file")
	out := fs.String("out", "join-response.json", "Output file for the join response URI")
	fs.Parse(args)

	pw := readPassword("Admin password: ")
	sharePw := readPassword("Share password (out-of-band, given to the requester separately): ")

	tn := openTenant(*dataDir, *tenantID, *username, pw)
	defer tn.Close()

	raw, err := os.ReadFile(*reqFile)
	if err != nil {
		log.Fatalf("read join request: %v", err)
	}
	req, err := join.DecodeRequestURI(string(raw))
	if err != nil {
		log.Fatalf("decode join request: %v", err)
	}

	resp, err := join.ApproveJoinRequest(context.Background(), tn, req, sharePw)
	if err != nil {
		log.Fatalf("approve join request: %v", err)
	}
	uriStr, err := join.EncodeResponseURI(resp)
	if err != nil {
		log.Fatalf("encode join response: %v", err)
	}
	if err := os.WriteFile(*out, []byte(uriStr), 0600); err != nil {
		log.Fatalf("write join response: %v", err)
	}
	fmt.Printf("approved %q, response written to %s\n", req.Username, *out)
}

func cmdJoinAccept(args []string) {
	fs := flag.NewFlagSet("join-accept", flag.ExitOnError)
	dataDir := fs.String("data", "", "Data directory")
	identityFile := fs.String("identity", "join-identity.json", "Locally-generated identity file")
	respFile := fs.String("response", "join-response.json", "Join response URI file")
	fs.Parse(args)
	if *dataDir == "" {
		home, _ := os.UserHomeDir()
		*dataDir = filepath.Join(home, ".mindoo")
	}

	pw := readPassword("Your identity password: ")
	sharePw := readPassword("Share password: ")

	var id tenant.PrivateIdentity
	if err := readJSONFile(*identityFile, &id); err != nil {
		log.Fatalf("read identity file: %v", err)
	}
	raw, err := os.ReadFile(*respFile)
	if err != nil {
		log.Fatalf("read join response: %v", err)
	}
	resp, err := join.DecodeResponseURI(string(raw))
	if err != nil {
		log.Fatalf("decode join response: %v", err)
	}

	f, err := tenant.NewFactory(*dataDir)
	if err != nil {
		log.Fatalf("open tenant factory: %v", err)
	}
	tn, err := join.JoinTenant(f, resp, &id, pw, sharePw)
	if err != nil {
		log.Fatalf("join tenant: %v", err)
	}
	defer tn.Close()
	fmt.Printf("joined tenant %q as %q\n", tn.TenantID, tn.Username())
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	dataDir, tenantID, username := baseFlags(fs)
	addr := fs.String("addr", ":8080", "Listen address")
	jwtSecret := fs.String("jwt-secret", "", "HMAC secret for issued sync tokens")
	fs.Parse(args)
	if *jwtSecret == "" {
		log.Fatal("serve requires --jwt-secret")
	}

	pw := readPassword("Password: ")
	tn := openTenant(*dataDir, *tenantID, *username, pw)
	defer tn.Close()

	srv := sync.NewServer(tn, []byte(*jwtSecret))
	fmt.Printf("sync server listening on %s for tenant %q\n", *addr, tn.TenantID)
	if err := srv.ListenAndServe(*addr); err != nil {
		log.Fatalf("sync server: %v", err)
	}
}

func cmdDoc(args []string) {
	if len(args) < 1 {
		log.Fatal("doc requires a subcommand: create|get|list|update|delete")
	}
	sub := args[0]
	args = args[1:]

	fs := flag.NewFlagSet("doc "+sub, flag.ExitOnError)
	dataDir, tenantID, username := baseFlags(fs)
	db := fs.String("db", "notes", "Database id")
	docID := fs.String("doc", "", "Document id")
	field := fs.String("field", "", "Field name to set (create/update)")
	value := fs.String("value", "", "Field value to set (create/update)")
	docType := fs.String("type", "default", "Document schema type")
	fs.Parse(args)

	pw := readPassword("Password: ")
	tn := openTenant(*dataDir, *tenantID, *username, pw)
	defer tn.Close()

	ctx := context.Background()
	eng, err := tn.OpenDB(ctx, *db, document.DefaultConfig())
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	switch sub {
	case "create":
		id, err := eng.CreateDocumentTyped(ctx, *docType, func(v map[string]any) {
			if *field != "" {
				v[*field] = *value
			}
		}, "default")
		if err != nil {
			log.Fatalf("create document: %v", err)
		}
		fmt.Println(id)
	case "get":
		if *docID == "" {
			log.Fatal("get requires --doc")
		}
		view, err := eng.GetDocument(ctx, *docID)
		if err != nil {
			log.Fatalf("get document: %v", err)
		}
		data, _ := json.MarshalIndent(view, "", "  ")
		fmt.Println(string(data))
	case "list":
		ids, err := eng.AllDocumentIDs(ctx)
		if err != nil {
			log.Fatalf("list documents: %v", err)
		}
		for _, id := range ids {
			fmt.Println(id)
		}
	case "update":
		if *docID == "" || *field == "" {
			log.Fatal("update requires --doc and --field")
		}
		err := eng.ChangeDoc(ctx, *docID, func(v map[string]any) {
			v[*field] = *value
		})
		if err != nil {
			log.Fatalf("update document: %v", err)
		}
	case "delete":
		if *docID == "" {
			log.Fatal("delete requires --doc")
		}
		if err := eng.DeleteDocument(ctx, *docID); err != nil {
			log.Fatalf("delete document: %v", err)
		}
	default:
		log.Fatalf("unknown doc subcommand: %s", sub)
	}
}

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	dataDir, tenantID, username := baseFlags(fs)
	fs.Parse(args)

	pw := readPassword("Password: ")
	tn := openTenant(*dataDir, *tenantID, *username, pw)
	defer tn.Close()

	fmt.Println("tenant status")
	fmt.Println("-------------")
	fmt.Printf("  Data Dir:  %s\n", *dataDir)
	fmt.Printf("  Tenant:    %s\n", tn.TenantID)
	fmt.Printf("  User:      %s\n", tn.Username())
	fmt.Printf("  Is Admin:  %v\n", tn.IsAdmin())
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
