package store

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/picomail/imapmock"
)

// Namespace groups folders under a common prefix and hierarchy separator.
type Namespace struct {
	// Prefix is the namespace prefix, "" for the default personal one.
	Prefix string
	// Separator is the hierarchy separator, usually "/" or ".".
	Separator string
	// Type is "personal", "other" or "shared".
	Type string
	// Folders holds the top-level folders keyed by their path segment.
	Folders map[string]*Mailbox
}

// Store is the in-memory mailbox state shared by all sessions of a server.
// All methods expect the caller to hold the server's execution lock; the
// store itself only guards its lazy index.
type Store struct {
	mu sync.Mutex

	// Namespaces is keyed by prefix. The reference namespace must exist
	// and always contains INBOX after indexing.
	Namespaces map[string]*Namespace
	// ReferencePrefix names the namespace an empty LIST reference resolves
	// to. Defaults to "".
	ReferencePrefix string

	// SystemFlags is the set of acceptable backslash-prefixed flags.
	SystemFlags []string

	// MessageHooks run for every message entering a folder, at index time
	// and on append. Extensions use them to stamp bookkeeping fields.
	MessageHooks []func(mbox *Mailbox, msg *Message)

	folders     map[string]*Mailbox
	folderOrder []string

	// uidnext and uidvalidity survive folder deletion so a recreated path
	// can never hand out stale identifiers.
	uidNextCache     map[string]uint32
	uidValidityCache map[string]uint32
	nextUIDValidity  uint32

	indexed bool
}

// New returns an empty store with a default personal namespace.
func New() *Store {
	return &Store{
		Namespaces: map[string]*Namespace{
			"": {Prefix: "", Separator: "/", Type: "personal", Folders: make(map[string]*Mailbox)},
		},
		SystemFlags:      imapmock.DefaultSystemFlags(),
		uidNextCache:     make(map[string]uint32),
		uidValidityCache: make(map[string]uint32),
	}
}

// Reference returns the namespace an empty reference resolves to.
func (s *Store) Reference() *Namespace {
	return s.Namespaces[s.ReferencePrefix]
}

// Index rebuilds the flat folder lookup from the namespace trees and
// normalizes every folder: paths, uidvalidity, uidnext, child attributes.
// Index is idempotent and must be called after any structural edit.
func (s *Store) Index() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index()
}

func (s *Store) index() {
	if s.uidNextCache == nil {
		s.uidNextCache = make(map[string]uint32)
	}
	if s.uidValidityCache == nil {
		s.uidValidityCache = make(map[string]uint32)
	}
	ref := s.Namespaces[s.ReferencePrefix]
	if ref == nil {
		ref = &Namespace{Prefix: s.ReferencePrefix, Separator: "/", Type: "personal", Folders: make(map[string]*Mailbox)}
		if s.Namespaces == nil {
			s.Namespaces = make(map[string]*Namespace)
		}
		s.Namespaces[s.ReferencePrefix] = ref
	}
	if ref.Folders == nil {
		ref.Folders = make(map[string]*Mailbox)
	}
	if s.lookupSegment(ref, "INBOX") == nil {
		ref.Folders["INBOX"] = &Mailbox{}
	}

	s.folders = make(map[string]*Mailbox)
	s.folderOrder = s.folderOrder[:0]

	for _, prefix := range s.namespaceOrder() {
		ns := s.Namespaces[prefix]
		if ns.Folders == nil {
			ns.Folders = make(map[string]*Mailbox)
		}
		for _, seg := range sortedKeys(ns.Folders) {
			s.indexFolder(ns, ns.Folders[seg], seg, ns.Prefix)
		}
	}
	s.indexed = true
}

func (s *Store) indexFolder(ns *Namespace, mbox *Mailbox, segment, parentPath string) {
	path := ns.Prefix + segment
	if parentPath != "" {
		path = parentPath + ns.Separator + segment
	}
	if segEqualsInbox(ns, s, path) {
		path = "INBOX"
	}
	mbox.Path = path
	mbox.NamespacePrefix = ns.Prefix

	if mbox.Folders == nil {
		mbox.Folders = make(map[string]*Mailbox)
	}
	if mbox.Ext == nil {
		mbox.Ext = make(map[string]interface{})
	}

	if len(mbox.Folders) > 0 {
		mbox.ClearFlag(imapmock.HasNoChildrenAttr)
		mbox.SetFlag(imapmock.HasChildrenAttr)
	} else {
		mbox.ClearFlag(imapmock.HasChildrenAttr)
		mbox.SetFlag(imapmock.HasNoChildrenAttr)
	}

	if mbox.UIDValidity == 0 {
		if cached := s.uidValidityCache[path]; cached != 0 {
			mbox.UIDValidity = cached
		} else {
			s.nextUIDValidity++
			mbox.UIDValidity = s.nextUIDValidity
		}
	}
	if mbox.UIDValidity > s.nextUIDValidity {
		s.nextUIDValidity = mbox.UIDValidity
	}
	s.uidValidityCache[path] = mbox.UIDValidity

	if mbox.UIDNext < 1 {
		mbox.UIDNext = 1
	}
	if cached := s.uidNextCache[path]; cached > mbox.UIDNext {
		mbox.UIDNext = cached
	}
	if max := mbox.MaxUID(); max >= mbox.UIDNext {
		mbox.UIDNext = max + 1
	}

	if len(mbox.PermanentFlags) == 0 && !mbox.AllowPermanentFlags {
		mbox.PermanentFlags = append([]string(nil), s.SystemFlags...)
	}

	for _, msg := range mbox.Messages {
		if msg.UID == 0 {
			msg.UID = mbox.UIDNext
			mbox.UIDNext++
		}
		s.processMessage(mbox, msg)
	}
	if cached := s.uidNextCache[path]; mbox.UIDNext > cached {
		s.uidNextCache[path] = mbox.UIDNext
	}

	s.folders[path] = mbox
	s.folderOrder = append(s.folderOrder, path)

	for _, seg := range sortedKeys(mbox.Folders) {
		s.indexFolder(ns, mbox.Folders[seg], seg, path)
	}
}

func segEqualsInbox(ns *Namespace, s *Store, path string) bool {
	return ns.Prefix == s.ReferencePrefix && strings.EqualFold(path, "INBOX")
}

func (s *Store) processMessage(mbox *Mailbox, msg *Message) {
	if msg.Ext == nil {
		msg.Ext = make(map[string]interface{})
	}
	if msg.Flags == nil {
		msg.Flags = []string{}
	}
	if msg.InternalDate == "" {
		msg.InternalDate = imapmock.FormatDateTime(time.Now())
	}
	for _, hook := range s.MessageHooks {
		hook(mbox, msg)
	}
}

func (s *Store) lookupSegment(ns *Namespace, seg string) *Mailbox {
	if mbox, ok := ns.Folders[seg]; ok {
		return mbox
	}
	if strings.EqualFold(seg, "INBOX") {
		for name, mbox := range ns.Folders {
			if strings.EqualFold(name, "INBOX") {
				return mbox
			}
		}
	}
	return nil
}

// Resolve returns the folder for a full path. The INBOX token matches
// case-insensitively; everything else is exact.
func (s *Store) Resolve(path string) *Mailbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.indexed {
		s.index()
	}
	if strings.EqualFold(path, "INBOX") {
		path = "INBOX"
	}
	return s.folders[path]
}

// Folders returns all indexed folders in stable walk order.
func (s *Store) Folders() []*Mailbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.indexed {
		s.index()
	}
	out := make([]*Mailbox, 0, len(s.folderOrder))
	for _, path := range s.folderOrder {
		out = append(out, s.folders[path])
	}
	return out
}

// MatchFolders expands a LIST reference and pattern against the folder
// tree. "*" matches across hierarchy levels, "%" within one level.
func (s *Store) MatchFolders(reference, pattern string) []*Mailbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.indexed {
		s.index()
	}

	ns := s.Namespaces[reference]
	if reference == "" {
		ns = s.Namespaces[s.ReferencePrefix]
	}
	if ns == nil {
		return nil
	}

	lookup := reference + pattern
	query := compilePattern(lookup, ns.Separator)
	inbox := compilePattern(strings.ToUpper(lookup), ns.Separator)

	var out []*Mailbox
	for _, path := range s.folderOrder {
		mbox := s.folders[path]
		if mbox.NamespacePrefix != ns.Prefix {
			continue
		}
		matched := query.MatchString(path)
		if !matched && strings.EqualFold(path, "INBOX") {
			matched = inbox.MatchString("INBOX")
		}
		if !matched {
			continue
		}
		if mbox.HasFlag(imapmock.NonExistentAttr) && path != pattern {
			continue
		}
		out = append(out, mbox)
	}
	return out
}

var patternEscaper = regexp.MustCompile(`[\-\[\]\/\{\}\(\)\+\?\.\\\^\$\|]`)

func compilePattern(pattern, separator string) *regexp.Regexp {
	escaped := patternEscaper.ReplaceAllString(pattern, `\$0`)
	escaped = strings.ReplaceAll(escaped, "*", ".*")
	escaped = strings.ReplaceAll(escaped, "%", "[^"+regexp.QuoteMeta(separator)+"]*")
	re, err := regexp.Compile("^" + escaped + "$")
	if err != nil {
		// Fall back to a never-matching query on a hostile pattern.
		return regexp.MustCompile(`^\x00$`)
	}
	return re
}

// Append adds a message to the folder, assigning the next UID. The raw
// content is stored as-is. Returns the stored message.
func (s *Store) Append(mbox *Mailbox, flags []string, internalDate string, raw []byte) *Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := &Message{
		UID:          mbox.UIDNext,
		Flags:        dedupeFlags(flags),
		InternalDate: internalDate,
		Raw:          raw,
	}
	mbox.UIDNext++
	s.uidNextCache[mbox.Path] = mbox.UIDNext
	s.processMessage(mbox, msg)
	mbox.Messages = append(mbox.Messages, msg)
	return msg
}

// ExpungeDeleted removes every \Deleted message from the folder. It
// returns the removed sequence numbers in removal order (each relative to
// the state at removal time, the way EXPUNGE notifications are numbered)
// and a snapshot of the folder's message list after removal.
func (s *Store) ExpungeDeleted(mbox *Mailbox) (removed []uint32, snapshot []*Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < len(mbox.Messages); {
		if mbox.Messages[i].HasFlag(`\Deleted`) {
			mbox.Messages = append(mbox.Messages[:i], mbox.Messages[i+1:]...)
			removed = append(removed, uint32(i+1))
			continue
		}
		i++
	}
	snapshot = append([]*Message(nil), mbox.Messages...)
	return removed, snapshot
}

// HasDeleted reports whether the folder has messages flagged \Deleted.
func (s *Store) HasDeleted(mbox *Mailbox) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range mbox.Messages {
		if msg.HasFlag(`\Deleted`) {
			return true
		}
	}
	return false
}

// CreateFolder creates a folder at the given path in the reference
// namespace, creating missing intermediate folders along the way.
func (s *Store) CreateFolder(path string) (*Mailbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.indexed {
		s.index()
	}

	ns := s.Namespaces[s.ReferencePrefix]
	path = strings.TrimSuffix(path, ns.Separator)
	if path == "" {
		return nil, fmt.Errorf("empty mailbox name")
	}
	if strings.EqualFold(path, "INBOX") {
		return nil, fmt.Errorf("INBOX already exists")
	}
	if _, ok := s.folders[path]; ok {
		return nil, fmt.Errorf("mailbox already exists")
	}

	segments := strings.Split(strings.TrimPrefix(path, ns.Prefix), ns.Separator)
	parent := ns.Folders
	var created *Mailbox
	for _, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("invalid mailbox name")
		}
		next, ok := parent[seg]
		if !ok {
			next = &Mailbox{}
			parent[seg] = next
		}
		if next.Folders == nil {
			next.Folders = make(map[string]*Mailbox)
		}
		created = next
		parent = next.Folders
	}
	created.ClearFlag(imapmock.NonExistentAttr)
	s.index()
	return created, nil
}

// DeleteFolder removes a folder. INBOX and folders with children cannot be
// deleted. The folder's uidnext is cached so the path stays poisoned
// against UID reuse.
func (s *Store) DeleteFolder(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.indexed {
		s.index()
	}

	if strings.EqualFold(path, "INBOX") {
		return fmt.Errorf("INBOX can not be deleted")
	}
	mbox, ok := s.folders[path]
	if !ok {
		return fmt.Errorf("no such mailbox")
	}
	if len(mbox.Folders) > 0 {
		return fmt.Errorf("mailbox has children")
	}

	s.uidNextCache[path] = mbox.UIDNext

	ns := s.Namespaces[mbox.NamespacePrefix]
	segments := strings.Split(strings.TrimPrefix(path, ns.Prefix), ns.Separator)
	parent := ns.Folders
	for _, seg := range segments[:len(segments)-1] {
		next, ok := parent[seg]
		if !ok {
			return fmt.Errorf("no such mailbox")
		}
		parent = next.Folders
	}
	delete(parent, segments[len(segments)-1])
	s.index()
	return nil
}

// RenameFolder moves a folder to a new path. The folder keeps its
// messages; uidvalidity follows the destination path.
func (s *Store) RenameFolder(oldPath, newPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.indexed {
		s.index()
	}

	if strings.EqualFold(oldPath, "INBOX") || strings.EqualFold(newPath, "INBOX") {
		return fmt.Errorf("INBOX can not be renamed")
	}
	mbox, ok := s.folders[oldPath]
	if !ok {
		return fmt.Errorf("no such mailbox")
	}
	if _, ok := s.folders[newPath]; ok {
		return fmt.Errorf("mailbox already exists")
	}
	if len(mbox.Folders) > 0 {
		return fmt.Errorf("mailbox has children")
	}

	ns := s.Namespaces[mbox.NamespacePrefix]
	oldSegs := strings.Split(strings.TrimPrefix(oldPath, ns.Prefix), ns.Separator)
	parent := ns.Folders
	for _, seg := range oldSegs[:len(oldSegs)-1] {
		parent = parent[seg].Folders
	}
	delete(parent, oldSegs[len(oldSegs)-1])

	s.uidNextCache[oldPath] = mbox.UIDNext

	newSegs := strings.Split(strings.TrimPrefix(newPath, ns.Prefix), ns.Separator)
	dst := ns.Folders
	for _, seg := range newSegs[:len(newSegs)-1] {
		next, ok := dst[seg]
		if !ok {
			next = &Mailbox{Folders: make(map[string]*Mailbox)}
			dst[seg] = next
		}
		dst = next.Folders
	}
	mbox.UIDValidity = 0
	dst[newSegs[len(newSegs)-1]] = mbox
	s.index()
	return nil
}

// Ranged pairs a message with its sequence number in the list the range
// was resolved against.
type Ranged struct {
	Seq uint32
	Msg *Message
}

// Range resolves a sequence-set string against a message list. Tokens are
// "n", "n:m" and "n:*"; "*" stands for the highest sequence number or, in
// UID mode, the highest UID present. Ranges are inclusive and unordered
// bounds are normalized. Messages are returned in mailbox order without
// duplicates.
func Range(messages []*Message, set string, byUID bool) []Ranged {
	star := uint32(len(messages))
	if byUID {
		star = 0
		for _, msg := range messages {
			if msg.UID > star {
				star = msg.UID
			}
		}
	}

	type bounds struct{ from, to uint32 }
	var wanted []bounds
	for _, token := range strings.Split(set, ",") {
		if token == "" {
			continue
		}
		parts := strings.SplitN(token, ":", 2)
		from, ok := rangeBound(parts[0], star)
		if !ok {
			continue
		}
		to := from
		if len(parts) == 2 {
			to, ok = rangeBound(parts[1], star)
			if !ok {
				continue
			}
		}
		if from > to {
			from, to = to, from
		}
		wanted = append(wanted, bounds{from, to})
	}

	var out []Ranged
	for i, msg := range messages {
		val := uint32(i + 1)
		if byUID {
			val = msg.UID
		}
		for _, b := range wanted {
			if val >= b.from && val <= b.to {
				out = append(out, Ranged{Seq: uint32(i + 1), Msg: msg})
				break
			}
		}
	}
	return out
}

func rangeBound(token string, star uint32) (uint32, bool) {
	if token == "*" {
		return star, true
	}
	n, err := strconv.ParseUint(token, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

func (s *Store) namespaceOrder() []string {
	prefixes := make([]string, 0, len(s.Namespaces))
	for p := range s.Namespaces {
		prefixes = append(prefixes, p)
	}
	// Insertion order is not observable on a map; a stable sort keeps the
	// listing order deterministic across runs.
	for i := 1; i < len(prefixes); i++ {
		for j := i; j > 0 && prefixes[j] < prefixes[j-1]; j-- {
			prefixes[j], prefixes[j-1] = prefixes[j-1], prefixes[j]
		}
	}
	return prefixes
}

func sortedKeys(m map[string]*Mailbox) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Insertion order is not observable on a map; a stable sort keeps the
	// listing order deterministic across runs.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

func dedupeFlags(flags []string) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		dup := false
		for _, existing := range out {
			if existing == f {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, f)
		}
	}
	return out
}
