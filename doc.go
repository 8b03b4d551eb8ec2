// Package walletchat implements a peer-to-peer chat client whose participants
// are identified by wallet addresses.
//
// A [Client] runs on top of an [interfaces.Session], the network layer that
// carries opaque payloads between addresses and reports liveness probe
// results. The client keeps per-contact conversation history, tracks each
// contact's reachability, and runs the delivery/read confirmation protocol.
//
// # Getting Started
//
//	options := walletchat.NewOptions()
//	options.DataDir = "/var/lib/walletchat"
//
//	client, err := walletchat.New(ctx, options, session)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.OnMessageReceived(func(msg messaging.Message) {
//	    fmt.Printf("%s: %s\n", msg.Address().Short(), msg.Text())
//	    client.SendReadConfirmation(ctx, &msg)
//	})
//
//	client.OnDeliveryConfirmation(func(msg messaging.Message, c messaging.Confirmation) {
//	    fmt.Printf("delivered %s at %s\n", c.MessageID, c.Timestamp)
//	})
//
//	peer, _ := address.Parse(text)
//	if _, err := client.SendText(ctx, peer, "hello"); err != nil {
//	    log.Println(err)
//	}
//
// # Messages
//
// Outbound messages are composed, optionally given metadata, then sent. A
// message is persisted before it is transmitted; a transport failure returns a
// [*SendError] but the stored entry remains.
//
//	msg, err := client.Compose(peer, []byte("see attached"))
//	msg.AttachMetadata(messaging.MetadataLink, []byte("https://example.org"))
//	err = client.Send(ctx, msg)
//
// Received messages are acknowledged automatically with a delivery
// confirmation. Read confirmations are sent explicitly.
//
// # Contacts
//
// Contacts are added with [Client.AddContact]. Their status moves between
// NeverSeen, Online and Offline as the session reports probe results, and is
// forced to Banned by [Client.BanContact]. Every change is reported once
// through [Client.OnContactStatusChanged].
//
// # Callbacks
//
// Callbacks run on a single dispatcher goroutine in the order the underlying
// changes were committed. They receive snapshots and may call back into the
// client, except for Close.
//
// # Simulation
//
// Tests and local development can run clients on the in-memory network from
// the simulation package, usually obtained through the factory package:
//
//	f := factory.NewSessionFactory()
//	alice := f.CreateSimulationForTesting(aliceAddr)
//	bob := f.CreateSimulationForTesting(bobAddr)
package walletchat
