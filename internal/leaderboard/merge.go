package leaderboard

import (
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/contrib-rounds/internal/types"
)

func normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Identity keys carry their kind so a username never collides with another member's login.
func usernameKey(s string) string { return "u:" + normalize(s) }
func loginKey(s string) string    { return "l:" + normalize(s) }
func addressKey(s string) string  { return "a:" + normalize(s) }

// directory resolves usernames, logins and ledger addresses to members, case-insensitively
type directory struct {
	byUsername map[string]*types.Member
	byLogin    map[string]*types.Member
	byAddress  map[string]*types.Member
}

func newDirectory(members []types.Member) *directory {
	d := &directory{
		byUsername: make(map[string]*types.Member, len(members)),
		byLogin:    make(map[string]*types.Member, len(members)),
		byAddress:  make(map[string]*types.Member, len(members)),
	}
	for i := range members {
		m := &members[i]
		d.byUsername[normalize(m.Username)] = m
		if m.Login != "" {
			d.byLogin[normalize(m.Login)] = m
		}
		if m.LedgerAddress != "" {
			d.byAddress[normalize(m.LedgerAddress)] = m
		}
	}
	return d
}

// resolve finds the member behind a score row through its own address or login, by address first
func (d *directory) resolve(login, address string) *types.Member {
	if address != "" {
		if m, ok := d.byAddress[normalize(address)]; ok {
			return m
		}
	}
	if login != "" {
		if m, ok := d.byLogin[normalize(login)]; ok {
			return m
		}
	}
	return nil
}

// lookup finds a member by any of its identity keys; usernames take precedence
func (d *directory) lookup(identity string) *types.Member {
	key := normalize(identity)
	if m, ok := d.byUsername[key]; ok {
		return m
	}
	if m, ok := d.byLogin[key]; ok {
		return m
	}
	return d.byAddress[key]
}

// keysFor expands a queried identity to the keys of the member it names,
// or to the login and address keys it could stand for when no member matches
func (d *directory) keysFor(identity string) []string {
	if m := d.lookup(identity); m != nil {
		return memberKeys(m)
	}
	return []string{loginKey(identity), addressKey(identity)}
}

func memberKeys(m *types.Member) []string {
	keys := []string{usernameKey(m.Username)}
	if m.Login != "" {
		keys = append(keys, loginKey(m.Login))
	}
	if m.LedgerAddress != "" {
		keys = append(keys, addressKey(m.LedgerAddress))
	}
	return keys
}

// disjointSet is a union-find over identity keys
type disjointSet struct {
	parent map[string]string
}

func newDisjointSet() *disjointSet {
	return &disjointSet{parent: make(map[string]string)}
}

func (ds *disjointSet) find(k string) string {
	p, ok := ds.parent[k]
	if !ok {
		ds.parent[k] = k
		return k
	}
	if p == k {
		return k
	}
	root := ds.find(p)
	ds.parent[k] = root
	return root
}

func (ds *disjointSet) union(a, b string) {
	ra, rb := ds.find(a), ds.find(b)
	if ra != rb {
		ds.parent[rb] = ra
	}
}

func (ds *disjointSet) link(keys []string) {
	for _, k := range keys[1:] {
		ds.union(keys[0], k)
	}
}

// identityKeys lists the keys of a score row plus those of the member it resolves to
func identityKeys(dir *directory, login, address string, i int) ([]string, *types.Member) {
	var keys []string
	if login != "" {
		keys = append(keys, loginKey(login))
	}
	if address != "" {
		keys = append(keys, addressKey(address))
	}
	m := dir.resolve(login, address)
	if m != nil {
		keys = append(keys, memberKeys(m)...)
	}
	if len(keys) == 0 {
		keys = []string{"row:" + strconv.Itoa(i)}
	}
	return keys, m
}

// linked returns every key connected to identity through members and the given score rows
func linked(dir *directory, identity string, rows []types.BaseScore) map[string]bool {
	ds := newDisjointSet()
	own := dir.keysFor(identity)
	ds.link(own)
	for i, row := range rows {
		keys, _ := identityKeys(dir, row.Login, row.Address, i)
		ds.link(keys)
	}

	root := ds.find(own[0])
	out := make(map[string]bool)
	for k := range ds.parent {
		if ds.find(k) == root {
			out[k] = true
		}
	}
	return out
}

type group struct {
	entry  Entry
	member *types.Member
	rounds map[int64]bool
}

// mergeRows groups score rows that share any identity key and sums them per group.
// Groups are named by the member's login, falling back to its username, then the row login.
func mergeRows(dir *directory, rows []types.FinalScore) []Entry {
	ds := newDisjointSet()
	rowKeys := make([][]string, len(rows))
	members := make([]*types.Member, len(rows))

	for i, row := range rows {
		keys, m := identityKeys(dir, row.Login, row.Address, i)
		members[i] = m
		ds.link(keys)
		rowKeys[i] = keys
	}

	var order []string
	groups := make(map[string]*group)
	for i, row := range rows {
		root := ds.find(rowKeys[i][0])
		g, ok := groups[root]
		if !ok {
			g = &group{rounds: make(map[int64]bool)}
			groups[root] = g
			order = append(order, root)
		}
		g.entry.BaseScore += row.BaseScore
		g.entry.PeerScore += row.PeerScore
		g.entry.FinalScore += row.FinalScore
		g.rounds[row.RoundID] = true

		// later rows win so a renamed login shows its current form
		g.entry.Login = row.Login
		if row.Address != "" {
			g.entry.Address = row.Address
		}
		if members[i] != nil {
			g.member = members[i]
		}
	}

	entries := make([]Entry, 0, len(order))
	for _, root := range order {
		g := groups[root]
		e := g.entry
		e.Rounds = len(g.rounds)
		if m := g.member; m != nil {
			e.Username = m.Username
			switch {
			case m.Login != "":
				e.Login = m.Login
			case m.Username != "":
				e.Login = m.Username
			}
			if m.LedgerAddress != "" {
				e.Address = m.LedgerAddress
			}
		}
		entries = append(entries, e)
	}
	return entries
}
