// Command streamsctl is a small reference client for the streams core,
// demonstrating the create/subscribe/keyload/publish/sync lifecycle end to
// end over the in-memory transport.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/chainmesh/streams/pkg/identity"
	"github.com/chainmesh/streams/pkg/transport/memory"
	"github.com/chainmesh/streams/pkg/user"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "demo":
		if err := runDemo(); err != nil {
			fmt.Fprintf(os.Stderr, "streamsctl: %v\n", err)
			os.Exit(1)
		}
	case "version", "-v", "--version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "streamsctl: unknown command %q\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`streamsctl - reference client for the streams core

Usage:
  streamsctl demo       run an end-to-end create/subscribe/publish/sync demo
  streamsctl version    print the client version
  streamsctl help       print this message`)
}

func printVersion() {
	fmt.Printf("streamsctl %s\n", version)
}

// runDemo wires an author and a subscriber against a shared in-memory
// transport and walks through the full message lifecycle, printing the
// address of each published message.
func runDemo() error {
	ctx := context.Background()
	tr := memory.New()

	authorIdentity, err := identity.GenerateKeyPairIdentity()
	if err != nil {
		return fmt.Errorf("generate author identity: %w", err)
	}
	subscriberIdentity, err := identity.GenerateKeyPairIdentity()
	if err != nil {
		return fmt.Errorf("generate subscriber identity: %w", err)
	}

	author := user.New(user.WithIdentity(authorIdentity), user.WithTransport(tr))
	subscriber := user.New(user.WithIdentity(subscriberIdentity), user.WithTransport(tr))

	ann, err := author.CreateStream(ctx, 0)
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	fmt.Printf("announcement published at %s\n", ann.Address)

	streamAddr, _ := author.StreamAddress()
	if _, err := subscriber.HandleMessage(ctx, ann.Address, ann.Bytes); err != nil {
		return fmt.Errorf("subscriber receive announcement: %w", err)
	}

	sub, err := subscriber.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	fmt.Printf("subscription published at %s\n", sub.Address)

	if _, err := author.HandleMessage(ctx, sub.Address, sub.Bytes); err != nil {
		return fmt.Errorf("author receive subscription: %w", err)
	}

	keyload, key, err := author.SendKeyloadForAll(ctx)
	if err != nil {
		return fmt.Errorf("send keyload: %w", err)
	}
	fmt.Printf("keyload published at %s, distributing a %d-byte key\n", keyload.Address, len(key))

	if _, err := subscriber.HandleMessage(ctx, keyload.Address, keyload.Bytes); err != nil {
		return fmt.Errorf("subscriber receive keyload: %w", err)
	}

	packet, err := author.SendSignedPacket(ctx, streamAddr.Relative(), []byte("public hello"), []byte("masked hello"))
	if err != nil {
		return fmt.Errorf("send signed packet: %w", err)
	}
	fmt.Printf("signed packet published at %s\n", packet.Address)

	n, err := subscriber.Sync(ctx)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	fmt.Printf("subscriber synced %d new message(s)\n", n)
	return nil
}
