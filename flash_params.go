package qflash

import (
	"errors"
	"time"
)

var errGeometry = errors.New("invalid geometry: sector must divide block, block must divide size, page must fit a sector")

// Geometry is the erase/program structure of a part. Sector size must divide
// block size, block size must divide the total size, and the program page
// must fit in a sector.
type Geometry struct {
	Size       uint32 // total bytes
	BlockSize  uint32
	SectorSize uint32
	PageSize   uint32
}

func (g Geometry) validate() error {
	switch {
	case g.Size == 0 || g.BlockSize == 0 || g.SectorSize == 0 || g.PageSize == 0:
		return errGeometry
	case g.BlockSize%g.SectorSize != 0:
		return errGeometry
	case g.Size%g.BlockSize != 0:
		return errGeometry
	case g.PageSize > g.SectorSize:
		return errGeometry
	}
	return nil
}

// Timings are the worst-case completion times of the mutating operations,
// from the part datasheet. The core busy-wait does not depend on them; bus
// bridges without a hardware busy line use them to bound a stuck poll.
type Timings struct {
	PageProgram time.Duration
	SectorErase time.Duration
	BlockErase  time.Duration
	ChipErase   time.Duration
}

type partParams struct {
	name string
	geom Geometry
	t    Timings
}

var (
	partIDW25Q128JV    = [3]byte{0xEF, 0x40, 0x18}
	partIDW25Q128JVDTR = [3]byte{0xEF, 0x70, 0x18}
)

var knownParts = map[[3]byte]partParams{
	partIDW25Q128JV: {
		name: "Winbond W25Q128JV",
		geom: Geometry{
			Size:       16 << 20,
			BlockSize:  64 << 10,
			SectorSize: 4 << 10,
			PageSize:   256,
		},
		// [W25Q128|9.6 AC Electrical Characteristics]
		t: Timings{
			PageProgram: 3 * time.Millisecond,
			SectorErase: 400 * time.Millisecond,
			BlockErase:  2000 * time.Millisecond,
			ChipErase:   200 * time.Second,
		},
	},

	partIDW25Q128JVDTR: {
		name: "Winbond W25Q128JV-DTR",
		geom: Geometry{
			Size:       16 << 20,
			BlockSize:  64 << 10,
			SectorSize: 4 << 10,
			PageSize:   256,
		},
		// [W25Q128-DTR|9.6 AC Electrical Characteristics]
		t: Timings{
			PageProgram: 3 * time.Millisecond,
			SectorErase: 400 * time.Millisecond,
			BlockErase:  2000 * time.Millisecond,
			ChipErase:   200 * time.Second,
		},
	},
}

// LookupPart returns the name and geometry for a JEDEC id.
func LookupPart(id [3]byte) (name string, geom Geometry, ok bool) {
	p, ok := knownParts[id]
	return p.name, p.geom, ok
}

// TimingsForID returns the datasheet timings for a JEDEC id. Unknown ids get
// the maximum of every known part so a timing-bounded wait stays safe.
func TimingsForID(id [3]byte) Timings {
	if p, ok := knownParts[id]; ok {
		return p.t
	}
	var tmax Timings
	for _, p := range knownParts {
		tmax.PageProgram = max(tmax.PageProgram, p.t.PageProgram)
		tmax.SectorErase = max(tmax.SectorErase, p.t.SectorErase)
		tmax.BlockErase = max(tmax.BlockErase, p.t.BlockErase)
		tmax.ChipErase = max(tmax.ChipErase, p.t.ChipErase)
	}
	return tmax
}
