package node

import (
	"context"
	"crypto/ecdsa"
	"sync"
	"testing"
	"time"

	"github.com/mosaicnetworks/s2/src/activity"
	"github.com/mosaicnetworks/s2/src/common"
	"github.com/mosaicnetworks/s2/src/crypto/keys"
	"github.com/mosaicnetworks/s2/src/net"
	"github.com/mosaicnetworks/s2/src/presence"
	"github.com/mosaicnetworks/s2/src/relay"
	"github.com/mosaicnetworks/s2/src/tiv"
	"github.com/mosaicnetworks/s2/src/transaction"
)

var testNow = time.Unix(1600000000, 0)

type testPeer struct {
	key  *ecdsa.PrivateKey
	pub  []byte
	addr common.Address
	role presence.Role
}

func newTestPeer(t *testing.T, role presence.Role) *testPeer {
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	pub := keys.FromPublicKey(&key.PublicKey)
	return &testPeer{key: key, pub: pub, addr: keys.PublicKeyAddress(pub), role: role}
}

func (p *testPeer) signedAddress(t *testing.T, endpoint string, ts int64) *presence.Address {
	a := &presence.Address{
		DeviceID: "device",
		Endpoint: endpoint,
		Role:     p.role,
		LastSeen: ts,
	}
	if err := a.Sign(p.addr, p.key); err != nil {
		t.Fatalf("err: %v", err)
	}
	return a
}

func (p *testPeer) hello(t *testing.T, challenge, response []byte, ts int64) Hello {
	return Hello{
		Version:           ProtocolVersion,
		Identity:          p.addr,
		PublicKey:         p.pub,
		Role:              p.role,
		DeviceID:          "device",
		Endpoint:          "10.0.0.1:10234",
		Timestamp:         ts,
		Challenge:         challenge,
		ChallengeResponse: response,
		Address:           p.signedAddress(t, "10.0.0.1:10234", ts),
	}
}

func (p *testPeer) sign(t *testing.T, challenge []byte) []byte {
	sig, err := keys.SignData(p.key, challenge)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	return sig
}

type testNode struct {
	*Node
	clock      *common.ManualClock
	activities activity.Store
}

func newTestNode(t *testing.T) *testNode {
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	clock := common.NewManualClock(testNow)
	conf := TestConfig(t)
	conf.Clock = clock
	_, trans := net.NewInmemTransport("")
	activities := activity.NewInmemStore()

	n := NewNode(conf, key, trans, tiv.NewInmemHeaderStore(), activities)
	return &testNode{Node: n, clock: clock, activities: activities}
}

// newPendingConn returns a connection that has not started the handshake.
func newPendingConn(remote string, outbound bool) *net.CaptureConn {
	c := net.NewCaptureConn(remote, nil, presence.RoleUnknown)
	c.SetOutbound(outbound)
	c.Meta().Update(func(info *net.PeerInfo) {
		info.State = net.Connected
	})
	return c
}

// newAuthenticatedConn returns a connection of an authenticated peer,
// registered with the node.
func newAuthenticatedConn(n *testNode, remote string, p *testPeer) *net.CaptureConn {
	c := net.NewCaptureConn(remote, p.addr, p.role)
	c.Meta().Update(func(info *net.PeerInfo) {
		info.PublicKey = p.pub
	})
	n.hub.Add(c)
	return c
}

func dispatch(t *testing.T, n *testNode, c net.Conn, kind net.MessageKind, v interface{}) {
	raw, err := common.Encode(v)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	n.Dispatch(c, net.Message{Kind: kind, Payload: raw})
}

func lastOfKind(t *testing.T, c *net.CaptureConn, kind net.MessageKind, v interface{}) {
	msgs := c.SentOfKind(kind)
	if len(msgs) == 0 {
		t.Fatalf("no %v message sent", kind)
	}
	if err := common.Decode(msgs[len(msgs)-1].Payload, v); err != nil {
		t.Fatalf("err: %v", err)
	}
}

func expectBye(t *testing.T, c *net.CaptureConn, code ByeCode) {
	var bye Bye
	lastOfKind(t, c, net.KindBye, &bye)
	if bye.Code != code {
		t.Fatalf("bye code should be %v, not %v (%s)", code, bye.Code, bye.Message)
	}
	if !c.Closed() {
		t.Fatalf("connection should be closed after bye")
	}
}

func TestOutboundHandshake(t *testing.T) {
	n := newTestNode(t)
	master := newTestPeer(t, presence.RoleMaster)

	c := newPendingConn("10.0.0.1:10234", true)
	n.Connected(c)

	var hello Hello
	lastOfKind(t, c, net.KindHello, &hello)
	if len(hello.Challenge) != challengeLength {
		t.Fatalf("outbound hello should carry a %d byte challenge", challengeLength)
	}
	if !hello.Identity.Equal(n.Address()) || hello.Role != presence.RoleRelay {
		t.Fatalf("hello should introduce the node as a relay")
	}

	dispatch(t, n, c, net.KindHelloWithMetadata, &HelloWithMetadata{
		Hello:         master.hello(t, nil, master.sign(t, hello.Challenge), testNow.Unix()),
		BlockHeight:   10,
		BlockChecksum: []byte("checksum-10"),
		BlockVersion:  9,
		PublicIP:      "203.0.113.7:51234",
	})

	if c.Closed() {
		t.Fatalf("handshake should succeed")
	}
	if s := c.Meta().State(); s != net.EventSubscribed {
		t.Fatalf("state should be EventSubscribed, not %v", s)
	}

	var query PresenceQuery
	lastOfKind(t, c, net.KindPresenceQuery, &query)
	if query.Role != presence.RoleMaster || !query.Identity.Empty() {
		t.Fatalf("bootstrap query should ask for a sample of masters")
	}

	var sub EventSubscribe
	lastOfKind(t, c, net.KindEventSubscribe, &sub)
	if len(sub.Addresses) != 1 || !sub.Addresses[0].Equal(n.Address()) {
		t.Fatalf("subscription should cover the node's wallet")
	}

	var req tiv.HeaderBatchRequest
	lastOfKind(t, c, net.KindHeaderBatchRequest, &req)
	if req.From != 1 {
		t.Fatalf("headers should be requested from 1, not %d", req.From)
	}

	tip := n.NetworkTip()
	if tip.Height != 10 || tip.Version != 9 {
		t.Fatalf("network tip should be 10/v9, not %d/v%d", tip.Height, tip.Version)
	}
	if n.Verifier().NetworkHeight() != 10 {
		t.Fatalf("verifier should know the network height")
	}
	if ip := n.PublicIP(); ip != "203.0.113.7" {
		t.Fatalf("public IP should be adopted, got %q", ip)
	}
	if n.Directory().Lookup(master.addr) == nil {
		t.Fatalf("master presence should be in the directory")
	}
	if n.Hub().ByIdentity(master.addr) == nil {
		t.Fatalf("master should be reachable through the hub")
	}
}

func TestHelloWithMetadataFromClientIsRejected(t *testing.T) {
	n := newTestNode(t)
	client := newTestPeer(t, presence.RoleClient)

	c := newPendingConn("10.0.0.1:10234", true)
	n.Connected(c)

	var hello Hello
	lastOfKind(t, c, net.KindHello, &hello)

	dispatch(t, n, c, net.KindHelloWithMetadata, &HelloWithMetadata{
		Hello:       client.hello(t, nil, client.sign(t, hello.Challenge), testNow.Unix()),
		BlockHeight: 10,
	})

	expectBye(t, c, ByeExpectingMaster)
	if len(c.SentOfKind(net.KindPresenceQuery)) != 0 {
		t.Fatalf("no bootstrap query should be sent")
	}
}

func TestHelloWithMetadataBadSignature(t *testing.T) {
	n := newTestNode(t)
	master := newTestPeer(t, presence.RoleMaster)
	mallory := newTestPeer(t, presence.RoleMaster)

	c := newPendingConn("10.0.0.1:10234", true)
	n.Connected(c)

	var hello Hello
	lastOfKind(t, c, net.KindHello, &hello)

	dispatch(t, n, c, net.KindHelloWithMetadata, &HelloWithMetadata{
		Hello: master.hello(t, nil, mallory.sign(t, hello.Challenge), testNow.Unix()),
	})

	expectBye(t, c, ByeAuthFailed)
	if n.NetworkTip().Height != 0 {
		t.Fatalf("network tip should not be taken from an unauthenticated peer")
	}
}

func TestInboundClientHandshake(t *testing.T) {
	n := newTestNode(t)
	client := newTestPeer(t, presence.RoleClient)

	c := newPendingConn("10.0.0.2:40000", false)
	n.Connected(c)
	if len(c.Sent()) != 0 {
		t.Fatalf("the node should wait for the client hello")
	}

	clientChallenge := newChallenge()
	dispatch(t, n, c, net.KindHello, client.hello(t, clientChallenge, nil, testNow.Unix()))

	if s := c.Meta().State(); s != net.HelloExchanged {
		t.Fatalf("state should be HelloExchanged, not %v", s)
	}

	var reply Hello
	lastOfKind(t, c, net.KindHello, &reply)
	if !keys.VerifyData(n.PublicKey(), clientChallenge, reply.ChallengeResponse) {
		t.Fatalf("reply should sign the client challenge")
	}
	if len(reply.Challenge) != challengeLength {
		t.Fatalf("reply should carry a challenge")
	}

	dispatch(t, n, c, net.KindHello, client.hello(t, nil, client.sign(t, reply.Challenge), testNow.Unix()))

	if s := c.Meta().State(); s != net.Authenticated {
		t.Fatalf("state should be Authenticated, not %v", s)
	}
	if n.Directory().Lookup(client.addr) == nil {
		t.Fatalf("client presence should be in the directory")
	}

	dispatch(t, n, c, net.KindEventSubscribe, &EventSubscribe{
		Events:    []uint8{EventTransaction},
		Addresses: []common.Address{client.addr},
	})
	if s := c.Meta().State(); s != net.EventSubscribed {
		t.Fatalf("state should be EventSubscribed, not %v", s)
	}
}

func TestHelloPeersAreClients(t *testing.T) {
	n := newTestNode(t)

	victim := newTestPeer(t, presence.RoleClient)
	vc := newAuthenticatedConn(n, "10.0.0.8:40000", victim)
	vp := presence.NewPresence(victim.pub)
	vp.Addresses = append(vp.Addresses, victim.signedAddress(t, "10.0.0.8:40000", testNow.Unix()))
	if _, err := n.Directory().UpsertPresence(vp); err != nil {
		t.Fatalf("err: %v", err)
	}

	for _, role := range []presence.Role{presence.RoleRelay, presence.RoleMaster, presence.RoleHybrid} {
		rogue := newTestPeer(t, role)
		c := newPendingConn("10.0.0.2:40000", false)
		n.Connected(c)

		dispatch(t, n, c, net.KindHello, rogue.hello(t, nil, nil, testNow.Unix()))
		var reply Hello
		lastOfKind(t, c, net.KindHello, &reply)
		dispatch(t, n, c, net.KindHello, rogue.hello(t, nil, rogue.sign(t, reply.Challenge), testNow.Unix()))

		if !c.Meta().Info().Authenticated() {
			t.Fatalf("%v: hello exchange should authenticate", role)
		}
		if r := c.Meta().Role(); r != presence.RoleClient {
			t.Fatalf("%v: peer should be treated as a client, not %v", role, r)
		}
		if n.Directory().Lookup(rogue.addr) != nil {
			t.Fatalf("%v: unproven presence should not enter the directory", role)
		}

		// a later hello cannot change the role
		dispatch(t, n, c, net.KindHello, rogue.hello(t, nil, nil, testNow.Unix()))
		if r := c.Meta().Role(); r != presence.RoleClient {
			t.Fatalf("%v: role changed to %v after authentication", role, r)
		}

		spoofed := &relay.StreamMessage{
			ID:        relay.NewMessageID(),
			Sender:    newTestPeer(t, presence.RoleClient).addr,
			Recipient: victim.addr,
			Kind:      relay.Data,
			Payload:   []byte("ciphertext"),
		}
		raw, err := spoofed.Marshal()
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		n.Dispatch(c, net.Message{Kind: net.KindRelayData, Payload: raw})
		expectBye(t, c, ByeOther)
	}

	if got := len(vc.SentOfKind(net.KindRelayData)); got != 0 {
		t.Fatalf("no spoofed envelope should reach the victim, got %d", got)
	}
}

func TestInboundClientBadResponse(t *testing.T) {
	n := newTestNode(t)
	client := newTestPeer(t, presence.RoleClient)

	c := newPendingConn("10.0.0.2:40000", false)
	n.Connected(c)
	dispatch(t, n, c, net.KindHello, client.hello(t, nil, nil, testNow.Unix()))

	dispatch(t, n, c, net.KindHello, client.hello(t, nil, client.sign(t, []byte("not the challenge")), testNow.Unix()))

	expectBye(t, c, ByeAuthFailed)
}

func TestHelloVersionAndIdentity(t *testing.T) {
	n := newTestNode(t)
	client := newTestPeer(t, presence.RoleClient)

	c := newPendingConn("10.0.0.2:40000", false)
	h := client.hello(t, nil, nil, testNow.Unix())
	h.Version = MinProtocolVersion - 1
	dispatch(t, n, c, net.KindHello, &h)
	expectBye(t, c, ByeDeprecated)

	c = newPendingConn("10.0.0.3:40000", false)
	h = client.hello(t, nil, nil, testNow.Unix())
	h.Identity = newTestPeer(t, presence.RoleClient).addr
	dispatch(t, n, c, net.KindHello, &h)
	expectBye(t, c, ByeAuthFailed)
}

func TestUnauthenticatedMessagesDropped(t *testing.T) {
	n := newTestNode(t)
	c := newPendingConn("10.0.0.2:40000", false)

	for _, kind := range []net.MessageKind{net.KindRelayData, net.KindPresenceQuery, net.KindTransactionBroadcast} {
		n.Dispatch(c, net.Message{Kind: kind, Payload: []byte{0x01}})
	}

	if len(c.Sent()) != 0 || c.Closed() {
		t.Fatalf("messages before authentication should be dropped silently")
	}
}

func TestMalformedPayloadKeepsConnection(t *testing.T) {
	n := newTestNode(t)
	master := newTestPeer(t, presence.RoleMaster)
	c := newAuthenticatedConn(n, "10.0.0.1:10234", master)

	for _, kind := range []net.MessageKind{net.KindPresenceUpdate, net.KindHeaderBatchResponse, net.KindBalanceResponse, net.MessageKind(200)} {
		n.Dispatch(c, net.Message{Kind: kind, Payload: []byte{0xc1, 0xc1}})
	}

	if c.Closed() {
		t.Fatalf("malformed payloads should not close the connection")
	}
}

func TestByeCodes(t *testing.T) {
	n := newTestNode(t)
	master := newTestPeer(t, presence.RoleMaster)

	c := newAuthenticatedConn(n, "10.0.0.1:10234", master)
	dispatch(t, n, c, net.KindBye, &Bye{Code: ByeIncorrectIP, Data: "198.51.100.4"})
	if !c.Closed() {
		t.Fatalf("bye should close the connection")
	}
	if ip := n.PublicIP(); ip != "198.51.100.4" {
		t.Fatalf("reported IP should be adopted, got %q", ip)
	}

	c = newAuthenticatedConn(n, "10.0.0.5:10234", master)
	dispatch(t, n, c, net.KindBye, &Bye{Code: ByeNotConnectable})
	if n.Reachable() {
		t.Fatalf("node should be marked unreachable")
	}
}

func TestClientTransactionSubmission(t *testing.T) {
	n := newTestNode(t)
	master := newTestPeer(t, presence.RoleMaster)
	client := newTestPeer(t, presence.RoleClient)
	mc := newAuthenticatedConn(n, "10.0.0.1:10234", master)
	cc := newAuthenticatedConn(n, "10.0.0.2:40000", client)

	tx := &transaction.Transaction{
		Recipient: n.Address(),
		Amount:    42,
		Timestamp: testNow.Unix(),
	}
	if err := tx.Sign(client.key); err != nil {
		t.Fatalf("err: %v", err)
	}
	dispatch(t, n, cc, net.KindTransactionBroadcast, tx)

	if len(mc.SentOfKind(net.KindTransactionBroadcast)) != 1 {
		t.Fatalf("submission should be broadcast to the master")
	}
	if n.Pending().Get(tx.ID()) == nil {
		t.Fatalf("submission should be pending")
	}
	a, err := n.activities.Get(tx.ID())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if a.Type != activity.Received || a.Status != activity.Pending {
		t.Fatalf("activity should be a pending receipt, got %+v", a)
	}

	// the master echoes the transaction back
	dispatch(t, n, mc, net.KindTransactionBroadcast, tx)
	if got := len(n.Pending().Get(tx.ID()).Confirmations); got != 1 {
		t.Fatalf("echo should count as a confirmation, got %d", got)
	}

	// clients cannot submit transactions of others
	other := newTestPeer(t, presence.RoleClient)
	forged := &transaction.Transaction{Recipient: n.Address(), Amount: 1}
	if err := forged.Sign(other.key); err != nil {
		t.Fatalf("err: %v", err)
	}
	dispatch(t, n, cc, net.KindTransactionBroadcast, forged)
	expectBye(t, cc, ByeOther)
}

func TestTransactionEventsForwardedToSubscribers(t *testing.T) {
	n := newTestNode(t)
	master := newTestPeer(t, presence.RoleMaster)
	client := newTestPeer(t, presence.RoleClient)
	mc := newAuthenticatedConn(n, "10.0.0.1:10234", master)
	cc := newAuthenticatedConn(n, "10.0.0.2:40000", client)

	dispatch(t, n, cc, net.KindEventSubscribe, &EventSubscribe{
		Events:    []uint8{EventTransaction},
		Addresses: []common.Address{client.addr},
	})

	tx := &transaction.Transaction{Recipient: client.addr, Amount: 5}
	if err := tx.Sign(master.key); err != nil {
		t.Fatalf("err: %v", err)
	}
	dispatch(t, n, mc, net.KindTransactionBroadcast, tx)

	if len(cc.SentOfKind(net.KindTransactionBroadcast)) != 1 {
		t.Fatalf("subscribed client should receive the transaction")
	}
}

func TestConfirmationFinalizesPending(t *testing.T) {
	n := newTestNode(t)
	tx := &transaction.Transaction{Recipient: common.Address{1, 2, 3}, Amount: 7, Timestamp: testNow.Unix()}
	if err := tx.Sign(n.key); err != nil {
		t.Fatalf("err: %v", err)
	}
	if err := n.SubmitTransaction(tx); err != nil {
		t.Fatalf("err: %v", err)
	}

	n.TransactionConfirmed(tx.ID(), 12)
	n.maintain(n.clock.Now())

	if n.Pending().Count() != 0 {
		t.Fatalf("confirmed transaction should leave the pending set")
	}
	a, err := n.activities.Get(tx.ID())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if a.Type != activity.Sent || a.Status != activity.Final || a.AppliedHeight != 12 {
		t.Fatalf("activity should be a final send at 12, got %+v", a)
	}
}

func TestGetTransactionAnswered(t *testing.T) {
	n := newTestNode(t)
	master := newTestPeer(t, presence.RoleMaster)
	mc := newAuthenticatedConn(n, "10.0.0.1:10234", master)

	tx := &transaction.Transaction{Recipient: common.Address{1}, Amount: 7}
	if err := tx.Sign(n.key); err != nil {
		t.Fatalf("err: %v", err)
	}
	n.SubmitTransaction(tx)
	before := len(mc.SentOfKind(net.KindTransactionBroadcast))

	dispatch(t, n, mc, net.KindGetTransaction, &GetTransaction{TxID: tx.ID()})
	dispatch(t, n, mc, net.KindGetTransaction, &GetTransaction{TxID: "unknown"})

	if got := len(mc.SentOfKind(net.KindTransactionBroadcast)) - before; got != 1 {
		t.Fatalf("only the known transaction should be sent back, got %d", got)
	}
}

func TestPresenceQuery(t *testing.T) {
	n := newTestNode(t)
	client := newTestPeer(t, presence.RoleClient)
	cc := newAuthenticatedConn(n, "10.0.0.2:40000", client)

	other := newTestPeer(t, presence.RoleClient)
	p := presence.NewPresence(other.pub)
	p.Addresses = append(p.Addresses, other.signedAddress(t, "10.0.0.9:1", testNow.Unix()))
	if _, err := n.Directory().UpsertPresence(p); err != nil {
		t.Fatalf("err: %v", err)
	}

	dispatch(t, n, cc, net.KindPresenceQuery, &PresenceQuery{Identity: other.addr})
	msgs := cc.SentOfKind(net.KindPresenceUpdate)
	if len(msgs) != 1 {
		t.Fatalf("expected one presence chunk, got %d", len(msgs))
	}
	got, err := presence.Unmarshal(msgs[0].Payload)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !got.Identity.Equal(other.addr) {
		t.Fatalf("wrong presence returned")
	}

	cc.Reset()
	dispatch(t, n, cc, net.KindPresenceQuery, &PresenceQuery{Identity: newTestPeer(t, presence.RoleClient).addr})
	if len(cc.Sent()) != 0 {
		t.Fatalf("unknown identities get no answer")
	}

	if err := n.announceSelf(false); err != nil {
		t.Fatalf("err: %v", err)
	}
	dispatch(t, n, cc, net.KindPresenceQuery, &PresenceQuery{Role: presence.RoleRelay, Count: 5})
	msgs = cc.SentOfKind(net.KindPresenceUpdate)
	if len(msgs) != 1 {
		t.Fatalf("relay sample should hold the node itself, got %d", len(msgs))
	}
}

func TestClientKeepAlivePropagated(t *testing.T) {
	n := newTestNode(t)
	master := newTestPeer(t, presence.RoleMaster)
	client := newTestPeer(t, presence.RoleClient)
	mc := newAuthenticatedConn(n, "10.0.0.1:10234", master)
	cc := newAuthenticatedConn(n, "10.0.0.2:40000", client)

	ka, err := presence.NewKeepAlive(client.key, "phone", n.Endpoint(), presence.RoleClient, testNow.Unix())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	raw, err := ka.Marshal()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	n.Dispatch(cc, net.Message{Kind: net.KindPresenceKeepAlive, Payload: raw})

	if len(mc.SentOfKind(net.KindPresenceKeepAlive)) != 1 {
		t.Fatalf("client keepalive should reach the master")
	}
	if n.Directory().Lookup(client.addr) == nil {
		t.Fatalf("client should be in the directory")
	}

	// a replay carries nothing new
	n.Dispatch(cc, net.Message{Kind: net.KindPresenceKeepAlive, Payload: raw})
	if len(mc.SentOfKind(net.KindPresenceKeepAlive)) != 1 {
		t.Fatalf("replayed keepalive should not be propagated")
	}
}

func TestBalance(t *testing.T) {
	n := newTestNode(t)
	master := newTestPeer(t, presence.RoleMaster)
	client := newTestPeer(t, presence.RoleClient)
	mc := newAuthenticatedConn(n, "10.0.0.1:10234", master)
	cc := newAuthenticatedConn(n, "10.0.0.2:40000", client)

	dispatch(t, n, mc, net.KindBalanceResponse, &BalanceResponse{
		Address:       n.Address(),
		Balance:       1000,
		BlockHeight:   5,
		BlockChecksum: []byte("c5"),
	})
	b := n.Balance()
	if b.Amount != 1000 || b.BlockHeight != 5 || b.Verified {
		t.Fatalf("unexpected balance %+v", b)
	}

	// older heights are ignored
	dispatch(t, n, mc, net.KindBalanceResponse, &BalanceResponse{Address: n.Address(), Balance: 1, BlockHeight: 4})
	if n.Balance().Amount != 1000 {
		t.Fatalf("older balance should be ignored")
	}

	dispatch(t, n, cc, net.KindBalanceQuery, &BalanceQuery{Address: n.Address()})
	var resp BalanceResponse
	lastOfKind(t, cc, net.KindBalanceResponse, &resp)
	if resp.Balance != 1000 {
		t.Fatalf("query should return the known balance")
	}
}

func TestMaintainSweepsDirectory(t *testing.T) {
	n := newTestNode(t)
	other := newTestPeer(t, presence.RoleClient)
	p := presence.NewPresence(other.pub)
	p.Addresses = append(p.Addresses, other.signedAddress(t, "10.0.0.9:1", testNow.Unix()))
	if _, err := n.Directory().UpsertPresence(p); err != nil {
		t.Fatalf("err: %v", err)
	}

	n.clock.Advance(presence.DefaultTTL + time.Second)
	n.maintain(n.clock.Now())

	if n.Directory().Lookup(other.addr) != nil {
		t.Fatalf("stale presence should be swept")
	}
}

func TestGetStats(t *testing.T) {
	n := newTestNode(t)
	stats := n.GetStats()
	for _, k := range []string{"state", "status", "connections", "presences", "pending", "bytes_in", "forwarded", "rejected"} {
		if _, ok := stats[k]; !ok {
			t.Fatalf("stats should contain %q", k)
		}
	}
	if stats["state"] != Initial.String() {
		t.Fatalf("state should be Initial")
	}
}

// fakeMaster answers the hello of the node like an authoritative node.
type fakeMaster struct {
	t    *testing.T
	peer *testPeer
	addr string
	msgs chan net.Message
}

func (m *fakeMaster) Connected(c net.Conn)    {}
func (m *fakeMaster) Disconnected(c net.Conn) {}

func (m *fakeMaster) Dispatch(c net.Conn, msg net.Message) {
	select {
	case m.msgs <- msg:
	default:
	}
	if msg.Kind != net.KindHello {
		return
	}
	var h Hello
	if err := common.Decode(msg.Payload, &h); err != nil {
		m.t.Errorf("err: %v", err)
		return
	}
	if len(h.Challenge) == 0 {
		return
	}
	sig, err := keys.SignData(m.peer.key, h.Challenge)
	if err != nil {
		m.t.Errorf("err: %v", err)
		return
	}
	ts := time.Now().Unix()
	a := &presence.Address{DeviceID: "master", Endpoint: m.addr, Role: presence.RoleMaster, LastSeen: ts}
	if err := a.Sign(m.peer.addr, m.peer.key); err != nil {
		m.t.Errorf("err: %v", err)
		return
	}
	raw, err := common.Encode(&HelloWithMetadata{
		Hello: Hello{
			Version:           ProtocolVersion,
			Identity:          m.peer.addr,
			PublicKey:         m.peer.pub,
			Role:              presence.RoleMaster,
			DeviceID:          "master",
			Endpoint:          m.addr,
			Timestamp:         ts,
			ChallengeResponse: sig,
			Address:           a,
		},
		BlockHeight: 3,
	})
	if err != nil {
		m.t.Errorf("err: %v", err)
		return
	}
	c.Send(net.KindHelloWithMetadata, raw)
}

func TestNodeDialsSeedsOverInmemTransport(t *testing.T) {
	masterAddr, masterTrans := net.NewInmemTransport("")
	master := &fakeMaster{t: t, peer: newTestPeer(t, presence.RoleMaster), addr: masterAddr, msgs: make(chan net.Message, 64)}
	go masterTrans.Listen(master)
	defer masterTrans.Close()

	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	conf := TestConfig(t)
	conf.MaintenanceInterval = 20 * time.Millisecond
	conf.Seeds = []string{masterAddr}
	_, trans := net.NewInmemTransport("")
	trans.Route(masterAddr, masterTrans)

	n := NewNode(conf, key, trans, tiv.NewInmemHeaderStore(), activity.NewInmemStore())
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("err: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for len(n.Hub().Authenticated(presence.RoleMaster)) == 0 {
		select {
		case <-deadline:
			t.Fatalf("node did not authenticate the master")
		case <-time.After(10 * time.Millisecond):
		}
	}

	kinds := map[net.MessageKind]bool{}
	timeout := time.After(3 * time.Second)
	for !kinds[net.KindPresenceQuery] || !kinds[net.KindEventSubscribe] {
		select {
		case msg := <-master.msgs:
			kinds[msg.Kind] = true
		case <-timeout:
			t.Fatalf("master did not receive the bootstrap messages, got %v", kinds)
		}
	}

	if n.NetworkTip().Height != 3 {
		t.Fatalf("network tip should be 3")
	}

	done := make(chan struct{})
	go func() {
		n.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * conf.ShutdownTimeout):
		t.Fatalf("shutdown did not return")
	}
	if n.GetState() != Shutdown {
		t.Fatalf("state should be Shutdown")
	}
}

func TestConcurrentShutdown(t *testing.T) {
	n := newTestNode(t)
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("err: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.Shutdown()
		}()
	}
	wg.Wait()

	if n.GetState() != Shutdown {
		t.Fatalf("state should be Shutdown")
	}
	n.Shutdown()
}
