package coordinator

import (
	"sync"

	"github.com/feedme-go/feedclient/feed"
)

// ObjectState is a feed object's internal lifecycle state (spec §3).
// External state, as reported by Coordinator.FeedObjectState, collapses
// this to OPEN iff ObjectOpen or ObjectClosing, else CLOSED — an object
// that has been asked to close still reports OPEN to the application
// until its close event actually fires.
type ObjectState int

const (
	ObjectOpening ObjectState = iota
	ObjectOpen
	ObjectClosing
	ObjectClosed
)

// objectRecord is one application-visible feed object multiplexed onto a
// shared server feed (spec §4.3).
type objectRecord struct {
	id     string
	serial string
	state  ObjectState
}

// feedRecord tracks every feed object sharing one server feed serial, the
// Coordinator's own Master Feed State for that serial (spec §3, lagging
// the Conversation by one dispatch step), and the in-flight reconciliation
// between "every object wants this open" and the server feed's own
// OPENING/OPEN/CLOSING lifecycle.
type feedRecord struct {
	identity feed.Identity
	objects  map[string]*objectRecord

	masterOpen bool
	masterData feed.Data

	closing bool // a server FeedClose is in flight for this serial
	reopen  bool // an object (re-)opened while closing; re-issue FeedOpen once the close lands
}

func (fr *feedRecord) desiredOpen() bool {
	for _, o := range fr.objects {
		if o.state == ObjectOpening || o.state == ObjectOpen {
			return true
		}
	}
	return false
}

// DB is the Coordinator's indexed storage of feed objects and the server
// feeds they multiplex onto (spec §4.3).
type DB struct {
	mu      sync.Mutex
	objects map[string]*objectRecord
	feeds   map[string]*feedRecord
}

// NewDB returns an empty Coordinator DB.
func NewDB() *DB {
	return &DB{
		objects: make(map[string]*objectRecord),
		feeds:   make(map[string]*feedRecord),
	}
}

// Open registers objectId (state OPENING) against identity. mustOpenServer
// reports whether the caller must issue a server FeedOpen now (the serial
// has no server feed at all yet). If a close is in flight for this serial,
// the object still joins but its resolution waits for that close to land
// and a fresh FeedOpen to be re-issued (see ServerClosed).
func (db *DB) Open(objectId string, identity feed.Identity) (mustOpenServer bool) {
	db.mu.Lock()
	defer db.mu.Unlock()

	serial := identity.Serial()
	fr, ok := db.feeds[serial]
	if !ok {
		fr = &feedRecord{identity: identity, objects: make(map[string]*objectRecord)}
		db.feeds[serial] = fr
		mustOpenServer = true
	} else if fr.closing {
		fr.reopen = true
	}
	obj := &objectRecord{id: objectId, serial: serial, state: ObjectOpening}
	fr.objects[objectId] = obj
	db.objects[objectId] = obj
	return mustOpenServer
}

// TryResolveOpen reports whether objectId's feed already carries an open
// Master Feed State with no close in flight; if so it marks the object
// OPEN immediately and returns the current snapshot — the app's
// feedObjectOpen() needs no server round trip because another object
// already has the feed open (spec §4.5 tier-3 "APP_FEED_OBJECT_OPEN").
func (db *DB) TryResolveOpen(objectId string) (data feed.Data, ok bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	obj, exists := db.objects[objectId]
	if !exists || obj.state != ObjectOpening {
		return feed.Data{}, false
	}
	fr := db.feeds[obj.serial]
	if fr == nil || !fr.masterOpen || fr.closing {
		return feed.Data{}, false
	}
	obj.state = ObjectOpen
	return fr.masterData, true
}

// ObjectsOpeningForSerial returns every object id still OPENING on serial
// — the set a FeedOpenResponse-driven feedOpenSuccess fans out to.
// Objects TryResolveOpen already settled are excluded.
func (db *DB) ObjectsOpeningForSerial(serial string) []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	fr, ok := db.feeds[serial]
	if !ok {
		return nil
	}
	var ids []string
	for id, o := range fr.objects {
		if o.state == ObjectOpening {
			ids = append(ids, id)
		}
	}
	return ids
}

// MarkOpen transitions objectId from OPENING to OPEN.
func (db *DB) MarkOpen(objectId string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if obj, ok := db.objects[objectId]; ok && obj.state == ObjectOpening {
		obj.state = ObjectOpen
	}
}

// Close requests objectId close. mustCloseServer reports whether the
// caller must issue a server FeedClose now (objectId was the last object
// whose state desires this serial open). duplicate reports the object was
// already CLOSING/CLOSED, per spec §4.5 "if internal state already
// CLOSING, return (duplicate)". The object itself is NOT removed here:
// it stays registered (state CLOSING) until FinalizeClose runs, so
// FeedObjectState keeps reporting OPEN until the close event actually
// fires (spec §3 external-state rule).
func (db *DB) Close(objectId string) (serial string, mustCloseServer, duplicate, ok bool) {
	db.mu.Lock()
	defer db.mu.Unlock()

	obj, exists := db.objects[objectId]
	if !exists {
		return "", false, false, false
	}
	if obj.state == ObjectClosing || obj.state == ObjectClosed {
		return obj.serial, false, true, true
	}
	serial = obj.serial
	obj.state = ObjectClosing

	fr := db.feeds[serial]
	if fr == nil {
		return serial, false, false, true
	}
	if !fr.desiredOpen() && fr.masterOpen && !fr.closing {
		fr.closing = true
		mustCloseServer = true
	}
	return serial, mustCloseServer, false, true
}

// FinalizeClose removes objectId once its close event has actually been
// emitted to the application, dropping the feedRecord too if it was the
// last object and no server feed is in flight for it.
func (db *DB) FinalizeClose(objectId string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	obj, ok := db.objects[objectId]
	if !ok {
		return
	}
	obj.state = ObjectClosed
	delete(db.objects, objectId)
	fr := db.feeds[obj.serial]
	if fr == nil {
		return
	}
	delete(fr.objects, objectId)
	if len(fr.objects) == 0 && !fr.closing && !fr.masterOpen {
		delete(db.feeds, obj.serial)
	}
}

// SetMasterOpen records the Master Feed State as open (spec §3: "Master
// Feed State transitions to OPEN only on FeedOpenResponse{Success}").
// Objects that joined after a close was issued are ServerClosed's job, and
// resolving the objects still OPENING is left to the Coordinator via
// ObjectsOpeningForSerial. mustCloseServer reports that,
// now the feed is open, every object wanting it has already moved to
// CLOSING (an app-initiated close pre-empted the in-flight open), so the
// caller must immediately issue Conversation.feedClose.
func (db *DB) SetMasterOpen(serial string, data feed.Data) (mustCloseServer bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	fr, ok := db.feeds[serial]
	if !ok {
		return false
	}
	fr.masterOpen = true
	fr.masterData = data
	if !fr.desiredOpen() && !fr.closing {
		fr.closing = true
		mustCloseServer = true
	}
	return mustCloseServer
}

// SetMasterData updates the Master Feed State's data snapshot in place
// (spec: feedAction bridging sets master data).
func (db *DB) SetMasterData(serial string, data feed.Data) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if fr, ok := db.feeds[serial]; ok {
		fr.masterData = data
	}
}

// MasterData returns the Coordinator's last-acknowledged snapshot for
// serial, if the feed is open.
func (db *DB) MasterData(serial string) (feed.Data, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	fr, ok := db.feeds[serial]
	if !ok || !fr.masterOpen {
		return feed.Data{}, false
	}
	return fr.masterData, true
}

// ServerClosed records that the server has confirmed a FeedClose for
// serial (Master Feed State -> CLOSED). It reports whether the caller
// must immediately re-issue a server FeedOpen (an object (re-)joined the
// feed while the close was in flight), along with the identity to reopen,
// and, if the feed now has no objects at all, removes it.
func (db *DB) ServerClosed(serial string) (identity feed.Identity, reopen bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	fr, ok := db.feeds[serial]
	if !ok {
		return feed.Identity{}, false
	}
	fr.masterOpen = false
	fr.masterData = feed.Data{}
	fr.closing = false
	if fr.reopen {
		fr.reopen = false
		return fr.identity, true
	}
	if len(fr.objects) == 0 {
		delete(db.feeds, serial)
	}
	return feed.Identity{}, false
}

// SetMasterClosedAllObjects sets serial's Master Feed State to CLOSED
// (feedOpenFailure/feedTermination/disconnect all do this) and returns
// every object id still on it, removing the feedRecord entirely. Used
// where the server is authoritatively telling the client the feed is
// gone, not merely confirming a close the client asked for.
func (db *DB) SetMasterClosedAllObjects(serial string) []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	fr, ok := db.feeds[serial]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(fr.objects))
	for id, o := range fr.objects {
		if o.state != ObjectClosed {
			ids = append(ids, id)
		}
		delete(db.objects, id)
	}
	delete(db.feeds, serial)
	return ids
}

// ObjectsForSerial returns every object id currently sharing serial whose
// external state is OPEN (internal OPEN or CLOSING) — the set a feedAction
// fans out to.
func (db *DB) ObjectsForSerial(serial string) []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	fr, ok := db.feeds[serial]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(fr.objects))
	for id, o := range fr.objects {
		if o.state == ObjectOpen || o.state == ObjectClosing {
			ids = append(ids, id)
		}
	}
	return ids
}

// Identity returns the feed.Identity objectId is bound to.
func (db *DB) Identity(objectId string) (feed.Identity, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	obj, ok := db.objects[objectId]
	if !ok {
		return feed.Identity{}, false
	}
	fr, ok := db.feeds[obj.serial]
	if !ok {
		return feed.Identity{}, false
	}
	return fr.identity, true
}

// State reports objectId's current internal ObjectState.
func (db *DB) State(objectId string) (ObjectState, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	obj, ok := db.objects[objectId]
	if !ok {
		return ObjectClosed, false
	}
	return obj.state, true
}

// Reset clears every object and feed record; used on Conversation
// teardown, whose own feed bookkeeping is discarded synchronously too.
func (db *DB) Reset() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.objects = make(map[string]*objectRecord)
	db.feeds = make(map[string]*feedRecord)
}

// AllObjectIds returns every object id currently registered whose
// internal state is OPENING, OPEN, or CLOSING — an already-finalized
// CLOSED object (mid-emission) is excluded — for teardown notification.
func (db *DB) AllObjectIds() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	ids := make([]string, 0, len(db.objects))
	for id, o := range db.objects {
		if o.state != ObjectClosed {
			ids = append(ids, id)
		}
	}
	return ids
}
