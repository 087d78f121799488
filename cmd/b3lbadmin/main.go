// b3lbadmin is a minimal operator CLI for seeding and inspecting the
// balancer's relational store directly through pkg/database's repository
// layer — no separate admin protocol, just the same queries the HTTP
// server issues.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/de-ibh/b3lb/pkg/database"
	"github.com/de-ibh/b3lb/pkg/models"
)

func randomSecret(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		log.Fatalf("failed to generate random secret: %v", err)
	}
	return hex.EncodeToString(buf)
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: b3lbadmin <command> [flags]

commands:
  add-cluster-group -name <name>
  add-cluster -name <name> -group <cluster-group-id> [-a-factor 1.0] [-m-factor 1.0] [-cpu-iterations 10] [-cpu-max 1.0] [-hash sha256]
  add-node -cluster <cluster-id> -slug <slug> -domain <domain> -secret <node-secret>
  add-tenant -slug <SLUG> -group <cluster-group-id> [-attendee-limit 0] [-meeting-limit 0] [-recording=false]
  add-secret -tenant <tenant-id> [-sub-id 0] [-attendee-limit 0] [-meeting-limit 0] [-recording=false]
  set-maintenance -node <node-id> -on|-off
  list-tenants`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx := context.Background()
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("failed to load database config: %v", err)
	}
	client, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer client.Close()
	repo := database.NewRepository(client)

	cmd := os.Args[1]
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)

	switch cmd {
	case "add-cluster-group":
		name := fs.String("name", "", "cluster group name")
		fs.Parse(os.Args[2:])
		id, err := repo.CreateClusterGroup(ctx, *name)
		must(err)
		fmt.Println(id)

	case "add-cluster":
		name := fs.String("name", "", "cluster name")
		group := fs.String("group", "", "cluster group id to join")
		aFactor := fs.Float64("a-factor", 1.0, "attendee load factor")
		mFactor := fs.Float64("m-factor", 1.0, "meeting load factor")
		cpuIterations := fs.Int("cpu-iterations", 10, "cpu load polynomial degree")
		cpuMax := fs.Float64("cpu-max", 1.0, "cpu load contribution ceiling")
		hash := fs.String("hash", "sha256", "checksum algorithm: sha1|sha256|sha384|sha512")
		fs.Parse(os.Args[2:])
		id, err := repo.CreateCluster(ctx, models.Cluster{
			Name: *name, AFactor: *aFactor, MFactor: *mFactor,
			CPUIterations: *cpuIterations, CPUMax: *cpuMax, HashAlgorithm: *hash,
		})
		must(err)
		if *group != "" {
			must(repo.AddClusterToGroup(ctx, *group, id))
		}
		fmt.Println(id)

	case "add-node":
		cluster := fs.String("cluster", "", "owning cluster id")
		slug := fs.String("slug", "", "node slug, unique within cluster")
		domain := fs.String("domain", "", "node's public domain")
		secret := fs.String("secret", "", "node's backend-protocol secret (generated if empty)")
		fs.Parse(os.Args[2:])
		s := *secret
		if s == "" {
			s = randomSecret(32)
		}
		id, err := repo.CreateNode(ctx, models.Node{ClusterID: *cluster, Slug: *slug, Domain: *domain, Secret: s})
		must(err)
		fmt.Printf("%s\tsecret=%s\n", id, s)

	case "add-tenant":
		slug := fs.String("slug", "", "tenant slug, 2-10 uppercase letters")
		group := fs.String("group", "", "cluster group id")
		attendeeLimit := fs.Int("attendee-limit", 0, "0 == unlimited")
		meetingLimit := fs.Int("meeting-limit", 0, "0 == unlimited")
		recording := fs.Bool("recording", false, "allow recording for this tenant")
		holdDays := fs.Int("hold-days", 0, "0 == unlimited")
		fs.Parse(os.Args[2:])
		id, err := repo.CreateTenant(ctx, models.Tenant{
			Slug: *slug, ClusterGroupID: *group, AttendeeLimit: *attendeeLimit,
			MeetingLimit: *meetingLimit, RecordingEnabled: *recording, RecordsHoldDays: *holdDays,
			StatsToken: randomSecret(24),
		})
		must(err)
		fmt.Println(id)

	case "add-secret":
		tenant := fs.String("tenant", "", "owning tenant id")
		subID := fs.Int("sub-id", 0, "0 is the tenant-wide secret")
		attendeeLimit := fs.Int("attendee-limit", 0, "0 == unlimited")
		meetingLimit := fs.Int("meeting-limit", 0, "0 == unlimited")
		recording := fs.Bool("recording", false, "allow recording for this secret")
		fs.Parse(os.Args[2:])
		id, err := repo.CreateSecret(ctx, models.Secret{
			TenantID: *tenant, SubID: *subID, Secret: randomSecret(20), Secret2: randomSecret(20),
			AttendeeLimit: *attendeeLimit, MeetingLimit: *meetingLimit, RecordingEnabled: *recording,
		})
		must(err)
		fmt.Println(id)

	case "set-maintenance":
		node := fs.String("node", "", "node id")
		on := fs.Bool("on", false, "enter maintenance")
		off := fs.Bool("off", false, "leave maintenance")
		fs.Parse(os.Args[2:])
		must(repo.SetNodeMaintenance(ctx, *node, *on && !*off))

	case "list-tenants":
		fs.Parse(os.Args[2:])
		tenants, err := repo.AllTenants(ctx)
		must(err)
		for _, t := range tenants {
			fmt.Printf("%s\t%s\trecording=%t\tattendee_limit=%d\tmeeting_limit=%d\n",
				t.ID, t.Slug, t.RecordingEnabled, t.AttendeeLimit, t.MeetingLimit)
		}

	default:
		usage()
		os.Exit(2)
	}
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
