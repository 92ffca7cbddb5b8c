// Package directory implements the SiteDirectory: the static placement
// policy mapping variable ids to the sites that hold them, and site ids to
// the Site instances themselves.
//
// Placement is fixed for the life of the process: each variable resolves to
// the same site or sites on every lookup, with no membership changes to
// track.
package directory

import (
	"os"
	"sort"

	"github.com/blr246/adbs-repcrec/internal/journal"
	"github.com/blr246/adbs-repcrec/internal/rcerr"
	"github.com/blr246/adbs-repcrec/internal/site"
)

// Directory is the immutable variable-to-site placement policy plus the
// owned Site instances.
type Directory struct {
	numSites int
	numVars  int

	siteOfVar  map[int][]int // var -> ordered site ids hosting it
	replicated map[int]bool  // var -> is it replicated
	sites      map[int]*site.Site
}

// New builds a directory for numSites sites and numVars variables, seeding
// every hosted variable with its default value (10*i) in both the in-memory
// store and the on-disk journal.
//
// Placement: variable i is replicated (held on every site) iff i is even;
// otherwise it lives on exactly one site, 1 + (i mod numSites).
func New(numSites, numVars int, dataDir string) (*Directory, error) {
	if numSites < 1 {
		return nil, &rcerr.ConfigError{Msg: "site count must be positive"}
	}
	if numVars < 1 {
		return nil, &rcerr.ConfigError{Msg: "variable count must be positive"}
	}
	if dataDir != "" {
		for s := 1; s <= numSites; s++ {
			if empty, err := dirEmpty(journal.Dir(dataDir, s)); err != nil {
				return nil, &rcerr.ConfigError{Msg: "checking data directory: " + err.Error()}
			} else if !empty {
				return nil, &rcerr.ConfigError{Msg: "data directory " + journal.Dir(dataDir, s) + " already exists and is not empty"}
			}
		}
	}

	d := &Directory{
		numSites:   numSites,
		numVars:    numVars,
		siteOfVar:  make(map[int][]int),
		replicated: make(map[int]bool),
		sites:      make(map[int]*site.Site),
	}

	for s := 1; s <= numSites; s++ {
		var j *journal.Journal
		var err error
		if dataDir != "" {
			j, err = journal.Open(dataDir, s)
			if err != nil {
				return nil, err
			}
		}
		d.sites[s] = site.New(s, j)
	}

	for i := 1; i <= numVars; i++ {
		replicated := i%2 == 0
		d.replicated[i] = replicated
		value := 10 * i

		var hosts []int
		if replicated {
			for s := 1; s <= numSites; s++ {
				hosts = append(hosts, s)
			}
		} else {
			hosts = []int{1 + (i % numSites)}
		}
		sort.Ints(hosts)
		d.siteOfVar[i] = hosts

		for _, s := range hosts {
			if err := d.sites[s].Seed(i, value, replicated); err != nil {
				return nil, err
			}
		}
	}

	return d, nil
}

// dirEmpty reports whether path does not exist or exists with no entries.
func dirEmpty(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// NumSites reports the configured site count.
func (d *Directory) NumSites() int { return d.numSites }

// NumVars reports the configured variable count.
func (d *Directory) NumVars() int { return d.numVars }

// SitesFor returns the ordered set of site ids hosting varID.
func (d *Directory) SitesFor(varID int) []int {
	hosts := d.siteOfVar[varID]
	out := make([]int, len(hosts))
	copy(out, hosts)
	return out
}

// Hosts reports whether siteID holds a copy of varID.
func (d *Directory) Hosts(siteID, varID int) bool {
	for _, s := range d.siteOfVar[varID] {
		if s == siteID {
			return true
		}
	}
	return false
}

// IsReplicated reports whether varID lives on every site.
func (d *Directory) IsReplicated(varID int) bool { return d.replicated[varID] }

// Site returns the Site instance for siteID, or nil if out of range.
func (d *Directory) Site(siteID int) *site.Site { return d.sites[siteID] }

// AllSites returns every site in ascending id order.
func (d *Directory) AllSites() []*site.Site {
	out := make([]*site.Site, 0, len(d.sites))
	for s := 1; s <= d.numSites; s++ {
		out = append(out, d.sites[s])
	}
	return out
}

// AllVars returns every variable id in ascending order.
func (d *Directory) AllVars() []int {
	out := make([]int, 0, d.numVars)
	for i := 1; i <= d.numVars; i++ {
		out = append(out, i)
	}
	return out
}
