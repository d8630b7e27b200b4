package relay

import (
	"crypto/ecdsa"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaicnetworks/s2/src/common"
	"github.com/mosaicnetworks/s2/src/crypto/keys"
	"github.com/mosaicnetworks/s2/src/net"
	"github.com/mosaicnetworks/s2/src/presence"
	"github.com/mosaicnetworks/s2/src/transaction"
)

var testNow = time.Unix(1600000000, 0)

type peer struct {
	key  *ecdsa.PrivateKey
	addr common.Address
	conn *net.CaptureConn
}

type fixture struct {
	clock  *common.ManualClock
	dir    *presence.Directory
	hub    *net.Hub
	engine *Engine
	node   common.Address
}

func newFixture(t *testing.T) *fixture {
	clock := common.NewManualClock(testNow)
	logger := common.NewTestEntry(t, common.TestLogLevel)
	nodeKey, err := keys.GenerateECDSAKey()
	require.NoError(t, err)

	f := &fixture{
		clock: clock,
		dir:   presence.NewDirectory(presence.DefaultTTL, clock, logger),
		hub:   net.NewHub(),
		node:  keys.Address(nodeKey),
	}
	f.engine = NewEngine(DefaultConfig(), f.node, f.dir, f.hub, clock, logger)
	return f
}

// connect adds an authenticated peer to the hub, and to the directory when
// register is set.
func (f *fixture) connect(t *testing.T, remote string, role presence.Role, register bool) *peer {
	key, err := keys.GenerateECDSAKey()
	require.NoError(t, err)
	pub := keys.FromPublicKey(&key.PublicKey)
	addr := keys.Address(key)

	conn := net.NewCaptureConn(remote, addr, role)
	conn.Meta().Update(func(info *net.PeerInfo) {
		info.PublicKey = pub
	})
	f.hub.Add(conn)

	if register {
		a := &presence.Address{
			DeviceID: remote,
			Endpoint: remote,
			Role:     role,
			LastSeen: f.clock.Now().Unix(),
		}
		require.NoError(t, a.Sign(addr, key))
		p := presence.NewPresence(pub)
		p.Addresses = append(p.Addresses, a)
		_, err := f.dir.UpsertPresence(p)
		require.NoError(t, err)
	}

	return &peer{key: key, addr: addr, conn: conn}
}

func envelope(t *testing.T, from, to common.Address, kind Kind) (*StreamMessage, []byte) {
	msg := &StreamMessage{
		ID:        NewMessageID(),
		Sender:    from,
		Recipient: to,
		Kind:      kind,
		Payload:   []byte("ciphertext"),
	}
	raw, err := msg.Marshal()
	require.NoError(t, err)
	return msg, raw
}

func lastNotice(t *testing.T, c *net.CaptureConn) (*StreamMessage, *ErrorNotice) {
	sent := c.SentOfKind(net.KindRelayData)
	require.NotEmpty(t, sent, "expected an error envelope")
	msg, err := UnmarshalStreamMessage(sent[len(sent)-1].Payload)
	require.NoError(t, err)
	require.Equal(t, Error, msg.Kind)
	var notice ErrorNotice
	require.NoError(t, common.Decode(msg.Payload, &notice))
	return msg, &notice
}

func TestStreamMessageDecode(t *testing.T) {
	_, err := UnmarshalStreamMessage([]byte{0xc1, 0x00})
	assert.True(t, common.IsProtocol(err, common.Malformed))

	msg := &StreamMessage{Sender: common.Address{1}, Recipient: common.Address{2}}
	raw, err := msg.Marshal()
	require.NoError(t, err)
	_, err = UnmarshalStreamMessage(raw)
	assert.True(t, common.IsProtocol(err, common.Malformed), "an envelope without id is malformed")
}

func TestForwardToConnectedRecipient(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "10.0.0.1:1000", presence.RoleClient, true)
	bob := f.connect(t, "10.0.0.2:1000", presence.RoleClient, true)

	_, raw := envelope(t, alice.addr, bob.addr, Data)
	require.NoError(t, f.engine.Receive(raw, alice.conn))

	got := bob.conn.SentOfKind(net.KindRelayData)
	require.Len(t, got, 1)
	assert.Equal(t, raw, got[0].Payload)
	assert.Empty(t, alice.conn.Sent())

	stats := f.engine.Stats()
	assert.Equal(t, uint64(1), stats.Forwarded)
	assert.Equal(t, uint64(len(raw)), stats.BytesIn)
	assert.Equal(t, uint64(len(raw)), stats.BytesOut)
}

func TestForwardThroughRelay(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "10.0.0.1:1000", presence.RoleClient, true)
	other := f.connect(t, "10.0.0.9:10234", presence.RoleRelay, false)

	// bob is known through the relay it is attached to
	bobKey, err := keys.GenerateECDSAKey()
	require.NoError(t, err)
	bob := keys.Address(bobKey)
	a := &presence.Address{
		DeviceID: "phone",
		Endpoint: "10.0.0.9:10234",
		Role:     presence.RoleRelay,
		LastSeen: testNow.Unix(),
	}
	require.NoError(t, a.Sign(bob, bobKey))
	p := presence.NewPresence(keys.FromPublicKey(&bobKey.PublicKey))
	p.Addresses = append(p.Addresses, a)
	_, err = f.dir.UpsertPresence(p)
	require.NoError(t, err)

	_, raw := envelope(t, alice.addr, bob, Info)
	require.NoError(t, f.engine.Receive(raw, alice.conn))

	assert.Len(t, other.conn.SentOfKind(net.KindRelayData), 1)
	assert.Empty(t, alice.conn.Sent())
}

func TestUnknownRecipientGetsErrorWithOriginalID(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "10.0.0.1:1000", presence.RoleClient, true)
	// connected but not in the directory
	bob := f.connect(t, "10.0.0.2:1000", presence.RoleClient, false)

	msg, raw := envelope(t, alice.addr, bob.addr, Data)
	require.NoError(t, f.engine.Receive(raw, alice.conn))

	assert.Empty(t, bob.conn.Sent(), "no forward must be attempted")

	reply, notice := lastNotice(t, alice.conn)
	assert.Equal(t, msg.ID, notice.OriginalID)
	assert.Equal(t, ReasonUnreachable, notice.Reason)
	assert.True(t, reply.Recipient.Equal(alice.addr))
	assert.True(t, reply.Sender.Equal(bob.addr))
	assert.Equal(t, uint64(1), f.engine.Stats().Failed)
}

func TestSendFailureGetsError(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "10.0.0.1:1000", presence.RoleClient, true)
	bob := f.connect(t, "10.0.0.2:1000", presence.RoleClient, true)
	bob.conn.FailSends(net.ErrConnClosed)

	msg, raw := envelope(t, alice.addr, bob.addr, Data)
	require.NoError(t, f.engine.Receive(raw, alice.conn))

	_, notice := lastNotice(t, alice.conn)
	assert.Equal(t, msg.ID, notice.OriginalID)
}

func TestDataQuota(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "10.0.0.1:1000", presence.RoleClient, true)
	bob := f.connect(t, "10.0.0.2:1000", presence.RoleClient, true)

	for i := 0; i < DefaultDataQuota; i++ {
		_, raw := envelope(t, alice.addr, bob.addr, Data)
		require.NoError(t, f.engine.Receive(raw, alice.conn), "envelope %d", i)
	}

	msg, raw := envelope(t, alice.addr, bob.addr, Data)
	err := f.engine.Receive(raw, alice.conn)
	assert.True(t, common.IsProtocol(err, common.QuotaExceeded), "the 4th data envelope must be rejected, got %v", err)
	assert.Len(t, bob.conn.SentOfKind(net.KindRelayData), DefaultDataQuota)

	_, notice := lastNotice(t, alice.conn)
	assert.Equal(t, msg.ID, notice.OriginalID)
	assert.Equal(t, ReasonDataQuota, notice.Reason)
	require.NotEmpty(t, notice.Postage)

	tx, err := transaction.Unmarshal(notice.Postage)
	require.NoError(t, err)
	assert.Equal(t, transaction.Postage, tx.Type)
	assert.True(t, tx.Recipient.Equal(f.node))
	assert.True(t, tx.Sender().Equal(alice.addr))
	assert.Equal(t, 1, f.engine.StagedCount())
	assert.Equal(t, uint64(1), f.engine.Stats().Rejected)
}

func TestInfoQuota(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "10.0.0.1:1000", presence.RoleClient, true)
	bob := f.connect(t, "10.0.0.2:1000", presence.RoleClient, true)

	for i := 0; i < DefaultInfoQuota; i++ {
		_, raw := envelope(t, alice.addr, bob.addr, Info)
		require.NoError(t, f.engine.Receive(raw, alice.conn), "envelope %d", i)
	}

	_, raw := envelope(t, alice.addr, bob.addr, Info)
	err := f.engine.Receive(raw, alice.conn)
	assert.True(t, common.IsProtocol(err, common.QuotaExceeded), "the 11th info envelope must be rejected, got %v", err)

	_, notice := lastNotice(t, alice.conn)
	assert.Equal(t, ReasonInfoQuota, notice.Reason)
	assert.Empty(t, notice.Postage)

	// a data envelope opens a new info allowance
	_, raw = envelope(t, alice.addr, bob.addr, Data)
	require.NoError(t, f.engine.Receive(raw, alice.conn))
	_, raw = envelope(t, alice.addr, bob.addr, Info)
	require.NoError(t, f.engine.Receive(raw, alice.conn))

	info, data, _ := f.engine.Quotas().Counters(alice.addr)
	assert.Equal(t, 1, info)
	assert.Equal(t, 1, data)
}

func TestReceiveSignatureResetsQuota(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "10.0.0.1:1000", presence.RoleClient, true)
	bob := f.connect(t, "10.0.0.2:1000", presence.RoleClient, true)
	master := f.connect(t, "10.0.0.3:10234", presence.RoleMaster, false)

	for i := 0; i < DefaultDataQuota; i++ {
		_, raw := envelope(t, alice.addr, bob.addr, Data)
		require.NoError(t, f.engine.Receive(raw, alice.conn))
	}
	msg, raw := envelope(t, alice.addr, bob.addr, Data)
	require.Error(t, f.engine.Receive(raw, alice.conn))

	_, notice := lastNotice(t, alice.conn)
	tx, err := transaction.Unmarshal(notice.Postage)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(alice.key))

	payload, err := common.Encode(&TransactionSignature{MessageID: msg.ID, Signature: tx.Signature})
	require.NoError(t, err)

	f.clock.Advance(time.Second)
	signed, err := f.engine.ReceiveSignature(payload, alice.conn)
	require.NoError(t, err)
	require.NotNil(t, signed)
	assert.Equal(t, tx.ID(), signed.ID())

	broadcasts := master.conn.SentOfKind(net.KindTransactionBroadcast)
	require.Len(t, broadcasts, 1)
	got, err := transaction.Unmarshal(broadcasts[0].Payload)
	require.NoError(t, err)
	assert.NoError(t, got.Verify())
	assert.Empty(t, bob.conn.SentOfKind(net.KindTransactionBroadcast), "clients do not get postage broadcasts")

	_, data, lastPaid := f.engine.Quotas().Counters(alice.addr)
	assert.Equal(t, 0, data)
	assert.Equal(t, f.clock.Now(), lastPaid)
	assert.Equal(t, 0, f.engine.StagedCount())

	_, raw = envelope(t, alice.addr, bob.addr, Data)
	assert.NoError(t, f.engine.Receive(raw, alice.conn))
}

func TestConcurrentSignaturesPayOnce(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "10.0.0.1:1000", presence.RoleClient, true)
	master := f.connect(t, "10.0.0.3:10234", presence.RoleMaster, false)

	msgID := NewMessageID()
	tx := f.engine.newPostage(keys.FromPublicKey(&alice.key.PublicKey))
	f.engine.StageTransaction(msgID, tx, alice.addr)

	signed := tx.Copy()
	require.NoError(t, signed.Sign(alice.key))
	payload, err := common.Encode(&TransactionSignature{MessageID: msgID, Signature: signed.Signature})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var l sync.Mutex
	paid := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.engine.ReceiveSignature(payload, alice.conn)
			assert.NoError(t, err)
			if got != nil {
				l.Lock()
				paid++
				l.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, paid)
	assert.Equal(t, uint64(1), f.engine.Stats().Paid)
	assert.Len(t, master.conn.SentOfKind(net.KindTransactionBroadcast), 1)
	assert.Equal(t, 0, f.engine.StagedCount())
}

func TestReceiveSignatureMismatch(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "10.0.0.1:1000", presence.RoleClient, true)
	master := f.connect(t, "10.0.0.3:10234", presence.RoleMaster, false)

	msgID := NewMessageID()
	tx := f.engine.newPostage(keys.FromPublicKey(&alice.key.PublicKey))
	f.engine.StageTransaction(msgID, tx, alice.addr)
	f.engine.quotas.Admit(alice.addr, true)

	mallory, err := keys.GenerateECDSAKey()
	require.NoError(t, err)
	forged := tx.Copy()
	require.NoError(t, forged.Sign(mallory))

	payload, err := common.Encode(&TransactionSignature{MessageID: msgID, Signature: forged.Signature})
	require.NoError(t, err)

	signed, err := f.engine.ReceiveSignature(payload, alice.conn)
	assert.NoError(t, err)
	assert.Nil(t, signed)
	assert.Empty(t, master.conn.Sent())
	assert.Equal(t, 1, f.engine.StagedCount())

	_, data, lastPaid := f.engine.Quotas().Counters(alice.addr)
	assert.Equal(t, 1, data)
	assert.True(t, lastPaid.IsZero())

	unknown, err := common.Encode(&TransactionSignature{MessageID: []byte("nope"), Signature: forged.Signature})
	require.NoError(t, err)
	signed, err = f.engine.ReceiveSignature(unknown, alice.conn)
	assert.NoError(t, err)
	assert.Nil(t, signed)
}

func TestErrorEnvelopeDiscarded(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "10.0.0.1:1000", presence.RoleClient, true)
	bob := f.connect(t, "10.0.0.2:1000", presence.RoleClient, true)
	relay := f.connect(t, "10.0.0.9:10234", presence.RoleRelay, false)
	master := f.connect(t, "10.0.0.3:10234", presence.RoleMaster, false)

	for _, from := range []*peer{alice, relay, master} {
		_, raw := envelope(t, alice.addr, bob.addr, Error)
		require.NoError(t, f.engine.Receive(raw, from.conn))
	}

	assert.Empty(t, bob.conn.Sent())
	assert.Equal(t, uint64(3), f.engine.Stats().Rejected)
}

func TestSpoofedSenderRejected(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "10.0.0.1:1000", presence.RoleClient, true)
	bob := f.connect(t, "10.0.0.2:1000", presence.RoleClient, true)

	_, raw := envelope(t, bob.addr, alice.addr, Data)
	err := f.engine.Receive(raw, alice.conn)
	assert.True(t, common.IsProtocol(err, common.Violation))
	assert.Empty(t, alice.conn.Sent())
}

func TestOnlyAuthoritativePeersForwardForOthers(t *testing.T) {
	f := newFixture(t)
	bob := f.connect(t, "10.0.0.2:1000", presence.RoleClient, true)
	relay := f.connect(t, "10.0.0.9:10234", presence.RoleRelay, false)
	master := f.connect(t, "10.0.0.3:10234", presence.RoleMaster, false)

	// a fresh sender on every envelope would dodge the quota
	for i := 0; i < DefaultDataQuota+1; i++ {
		_, raw := envelope(t, common.Address{byte(i + 1)}, bob.addr, Data)
		err := f.engine.Receive(raw, relay.conn)
		assert.True(t, common.IsProtocol(err, common.Violation), "envelope %d", i)
	}
	assert.Empty(t, bob.conn.Sent())

	_, raw := envelope(t, common.Address{0xaa}, bob.addr, Data)
	require.NoError(t, f.engine.Receive(raw, master.conn))
	assert.Len(t, bob.conn.SentOfKind(net.KindRelayData), 1)
}

func TestSweepStaged(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "10.0.0.1:1000", presence.RoleClient, true)

	tx := f.engine.newPostage(keys.FromPublicKey(&alice.key.PublicKey))
	f.engine.StageTransaction(NewMessageID(), tx, alice.addr)

	assert.Equal(t, 0, f.engine.Sweep(f.clock.Now().Add(DefaultStagedTTL)))
	assert.Equal(t, 1, f.engine.Sweep(f.clock.Now().Add(DefaultStagedTTL+time.Second)))
	assert.Equal(t, 0, f.engine.StagedCount())
}

func TestQuotaConcurrentAdmit(t *testing.T) {
	clock := common.NewManualClock(testNow)
	q := NewQuotaManager(0, 0, 0, clock)
	sender := common.Address{1, 2, 3}

	var wg sync.WaitGroup
	var l sync.Mutex
	admitted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := q.Admit(sender, true); err == nil {
				l.Lock()
				admitted++
				l.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, DefaultDataQuota, admitted)
	assert.True(t, q.IsDataQuotaExceeded(sender))
}

func TestQuotaSweep(t *testing.T) {
	clock := common.NewManualClock(testNow)
	q := NewQuotaManager(0, 0, time.Minute, clock)
	require.NoError(t, q.Admit(common.Address{1}, true))

	clock.Advance(30 * time.Second)
	require.NoError(t, q.Admit(common.Address{2}, true))

	assert.Equal(t, 1, q.Sweep(testNow.Add(61*time.Second)))
	assert.Equal(t, 1, q.Count())

	info, data, _ := q.Counters(common.Address{1})
	assert.Equal(t, 0, info)
	assert.Equal(t, 0, data)
}
