package ptable

import (
	"sync"

	"ucgo/frame"
)

// The teacher reaches page-table frames through a hardware direct map
// (mem/dmap.go's Dmaplen, backed by a 1GB-page identity mapping set up
// at boot). This kernel has no boot-time identity map to lean on, so
// each page-table frame's backing storage is a plain Go-allocated page
// kept in a side table, indexed by frame number — the same "frame
// number is the only handle you need" contract, minus the unsafe
// pointer arithmetic the teacher needs for a real direct map.
var (
	backingMu sync.Mutex
	dirPages  = map[frame.Number]*PageDirectory{}
	tblPages  = map[frame.Number]*PageTable{}
)

func dirBacking(f frame.Number) *PageDirectory {
	backingMu.Lock()
	defer backingMu.Unlock()
	d, ok := dirPages[f]
	if !ok {
		d = &PageDirectory{}
		dirPages[f] = d
	}
	return d
}

func tableBacking(f frame.Number) *PageTable {
	backingMu.Lock()
	defer backingMu.Unlock()
	t, ok := tblPages[f]
	if !ok {
		t = &PageTable{}
		tblPages[f] = t
	}
	return t
}

// releaseBacking drops frame f's entries from both side tables, so a
// later use of f starts from fresh storage. Only FreeDirectory calls
// it; frames freed through decRef keep their side-table entries.
func releaseBacking(f frame.Number) {
	backingMu.Lock()
	defer backingMu.Unlock()
	delete(dirPages, f)
	delete(tblPages, f)
}

// invlpgCount lets tests observe how many TLB invalidations a Manager
// issued without needing real hardware.
var invlpgCount int

func invlpg(va uint32) { invlpgCount++ }
