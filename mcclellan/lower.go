package mcclellan

import (
	"sort"
	"strconv"
	"strings"

	"github.com/coregx/mcclellan/accel"
	"github.com/coregx/mcclellan/grey"
	"github.com/coregx/mcclellan/rawdfa"
)

// accelRecordSize is the fixed on-wire size of one accel pool entry: a type
// byte, the DVERM/DShufti scalar fields, and the 256-bit ground-truth escape
// set, rounded up to accelAlign.
const accelRecordSize = 40

// HeaderFlagSingleReport marks a compile where every reporting state raises
// the exact same, single report ID: Header.ArbReport then names it directly
// and callers can skip a report-list lookup entirely.
const HeaderFlagSingleReport uint8 = 1 << 0

// shermanStateTag is the row-type tag §6's Sherman region layout puts first
// in every row (SHERMAN_STATE in mcclellancompile.cpp). Step never re-reads
// it — Sherman dispatch decodes blob.Sherman, not these serialized bytes —
// but it keeps the on-wire row shape matching §6.
const shermanStateTag byte = 1

// Lower runs DFA-Lowering (§4.1) over raw, producing a Blob plus the list of
// raw state IDs that received an acceleration descriptor (for diagnostics).
// It requires raw's states to already be in BFS order — see DESIGN.md's
// Open Question decisions for why Sherman-Selection depends on that.
func Lower(raw *rawdfa.DFA, cfg grey.Config) (*Blob, []rawdfa.StateID, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, &CompileError{Kind: InvalidArgument, Message: "invalid grey-switch configuration", Cause: err}
	}
	if len(raw.States) > MaxStates {
		return nil, nil, &CompileError{Kind: StateCountExceeded, Message: strconv.Itoa(len(raw.States)) + " states exceeds the 65536-state limit of any variant"}
	}
	if err := raw.Validate(); err != nil {
		return nil, nil, &CompileError{Kind: DatabaseInvalid, Message: "raw DFA failed validation", Cause: err}
	}

	variant := Variant16
	if cfg.AllowMcClellan8 && len(raw.States) <= 256 {
		variant = Variant8
	}

	if !cfg.Streaming {
		raw.StripExtraEODReports()
	}

	sherman := map[rawdfa.StateID]ShermanEntry{}
	if variant == Variant16 {
		sherman = SelectSherman(raw, cfg.AllowShermanStates)
	}

	sdsResult := accel.FindSDSProxy(raw)

	accelDescs := map[rawdfa.StateID]accel.Descriptor{}
	if cfg.AccelerateDFA {
		for id := rawdfa.StateID(1); int(id) < len(raw.States); id++ {
			if accel.IsAccelerable(raw, sdsResult.State, id) {
				d := accel.Analyze(raw, id, sdsResult.State)
				if d.Type != accel.None {
					accelDescs[id] = d
				}
			}
		}
	}

	implToRaw, rawToImpl, limits := assignImplIDs(raw, variant, sherman, accelDescs)

	blob := &Blob{Variant: variant}
	blob.Header.AlphaShift = alphaShift(raw.ImplAlphaSize())
	rowWidth := 1 << blob.Header.AlphaShift
	blob.RowWidth = rowWidth
	blob.Header.Remap = remapTable(raw)
	blob.Header.StateCount = uint32(len(implToRaw))
	blob.Header.StartAnchored = uint32(rawToImpl[raw.StartAnchored])
	if raw.StartFloating == rawdfa.DeadState {
		blob.Header.StartFloating = 0
	} else {
		blob.Header.StartFloating = uint32(rawToImpl[raw.StartFloating])
	}

	if variant == Variant8 {
		blob.Header.AccelLimit8 = uint32(limits.accelLimit)
		blob.Header.AcceptLimit8 = uint32(limits.acceptLimit)
		blob.Header.ShermanLimit = uint32(len(implToRaw))
	} else {
		blob.Header.ShermanLimit = uint32(limits.shermanLimit)
	}

	aux, reportLists, arbReport, singleReport := buildAuxAndReports(raw, implToRaw, rawToImpl, accelDescs)
	blob.Aux = aux
	blob.ReportLists = reportLists
	if singleReport {
		blob.Header.Flags |= HeaderFlagSingleReport
		blob.Header.ArbReport = arbReport
	}

	accelPool, accelIndexByRaw := buildAccelPool(accelDescs)
	blob.Accel = accelPool
	for i := range blob.Aux {
		rawID := implToRaw[i]
		if idx, ok := accelIndexByRaw[rawID]; ok {
			blob.Aux[i].AccelOffset = uint32(idx)
			blob.Header.HasAccel = true
		}
	}

	mainRowCount := len(implToRaw)
	if variant == Variant16 {
		mainRowCount = int(blob.Header.ShermanLimit)
	}
	cells := buildMainTable(raw, implToRaw, rawToImpl, mainRowCount, rowWidth)

	var shermanEntries []ShermanEntry
	if variant == Variant16 {
		shermanEntries = buildShermanRegion(raw, implToRaw, rawToImpl, sherman, limits.shermanLimit)
		markEdges(cells, aux)
		markShermanEdges(shermanEntries, aux)
	}
	blob.Sherman = shermanEntries

	blob.NFAHeader.Type = variant
	blob.NFAHeader.NPositions = uint32(len(implToRaw))
	blob.NFAHeader.StreamStateSize = uint32(blob.cellSize())
	blob.NFAHeader.ScratchStateSize = uint32(blob.cellSize())
	if raw.HasEODReports() {
		blob.NFAHeader.Flags |= FlagAcceptsEOD
	}

	// Section offsets depend only on section sizes, which are already fixed
	// at this point, so a dry run with a zeroed Header (whose offset fields
	// don't affect any section's size) gives the true layout up front.
	_, transTableOffset, auxOffset, accelOffset, shermanOffset, shermanEnd := serialize(
		blob.NFAHeader, Header{Remap: blob.Header.Remap}, variant, rowWidth, mainRowCount, cells, aux, reportLists, accelPool, shermanEntries,
	)
	blob.Header.AuxOffset = uint32(auxOffset)
	blob.Header.AccelOffset = uint32(accelOffset)
	blob.Header.ShermanOffset = uint32(shermanOffset)
	blob.Header.ShermanEnd = uint32(shermanEnd)

	data, transTableOffset, _, _, _, _ := serialize(
		blob.NFAHeader, blob.Header, variant, rowWidth, mainRowCount, cells, aux, reportLists, accelPool, shermanEntries,
	)
	blob.NFAHeader.Length = uint32(len(data))
	// Length is the last header field to settle; re-serialize once more so
	// the wire bytes carry the true final length.
	data, transTableOffset, _, _, _, _ = serialize(
		blob.NFAHeader, blob.Header, variant, rowWidth, mainRowCount, cells, aux, reportLists, accelPool, shermanEntries,
	)
	blob.Data = data
	blob.transTableOffset = transTableOffset

	accelerated := make([]rawdfa.StateID, 0, len(accelDescs))
	for id := range accelDescs {
		accelerated = append(accelerated, id)
	}
	sort.Slice(accelerated, func(i, j int) bool { return accelerated[i] < accelerated[j] })

	return blob, accelerated, nil
}

// alphaShift returns ceil(log2(n)), minimum 1, matching §4.1's row-width
// derivation (the transition table always addresses at least 2 columns per
// state so a 1-symbol alphabet doesn't collapse the row).
func alphaShift(implAlphaSize uint16) uint8 {
	n := int(implAlphaSize) + 1 // + TOP
	shift := uint8(1)
	for (1 << shift) < n {
		shift++
	}
	return shift
}

func remapTable(raw *rawdfa.DFA) [256]byte {
	var out [256]byte
	for b := 0; b < 256; b++ {
		out[b] = byte(raw.AlphaRemap[b])
	}
	return out
}

type implLimits struct {
	accelLimit   int // Variant8 only
	acceptLimit  int // Variant8 only
	shermanLimit int // Variant16 only
}

// assignImplIDs computes the raw<->impl ID permutation for the chosen
// variant: the 8-bit variant orders states plain < accelerable < accepting
// (accepting takes priority for placement over accelerable when a state is
// both, since KindCounting DFAs may accelerate through a reporting state;
// its accel descriptor is still reachable via aux regardless of which ID
// range it lands in), and the 16-bit variant orders normal states before
// the Sherman-promoted ones.
func assignImplIDs(raw *rawdfa.DFA, variant Variant, sherman map[rawdfa.StateID]ShermanEntry, accelDescs map[rawdfa.StateID]accel.Descriptor) ([]rawdfa.StateID, []rawdfa.StateID, implLimits) {
	n := len(raw.States)
	implToRaw := make([]rawdfa.StateID, 1, n)
	implToRaw[0] = rawdfa.DeadState

	var limits implLimits

	if variant == Variant8 {
		var plain, accelerable, accepting []rawdfa.StateID
		for id := rawdfa.StateID(1); int(id) < n; id++ {
			isAccepting := len(raw.States[id].Reports) > 0 || len(raw.States[id].ReportsEOD) > 0
			_, isAccel := accelDescs[id]
			switch {
			case isAccepting:
				accepting = append(accepting, id)
			case isAccel:
				accelerable = append(accelerable, id)
			default:
				plain = append(plain, id)
			}
		}
		implToRaw = append(implToRaw, plain...)
		limits.accelLimit = len(implToRaw)
		implToRaw = append(implToRaw, accelerable...)
		limits.acceptLimit = len(implToRaw)
		implToRaw = append(implToRaw, accepting...)
	} else {
		var normal, promoted []rawdfa.StateID
		for id := rawdfa.StateID(1); int(id) < n; id++ {
			if _, ok := sherman[id]; ok {
				promoted = append(promoted, id)
			} else {
				normal = append(normal, id)
			}
		}
		implToRaw = append(implToRaw, normal...)
		limits.shermanLimit = len(implToRaw)
		implToRaw = append(implToRaw, promoted...)
	}

	rawToImpl := make([]rawdfa.StateID, n)
	for impl, rawID := range implToRaw {
		rawToImpl[rawID] = rawdfa.StateID(impl)
	}
	return implToRaw, rawToImpl, limits
}

// buildAuxAndReports pools identical (Reports, ReportsEOD) pairs into a
// deduplicated ReportList table and returns each impl state's AuxRecord
// (Accept/AcceptEOD as 1-based pool indices, Top as an impl ID), along with
// whether the whole DFA raises exactly one distinct non-EOD report ID.
func buildAuxAndReports(raw *rawdfa.DFA, implToRaw, rawToImpl []rawdfa.StateID, accelDescs map[rawdfa.StateID]accel.Descriptor) ([]AuxRecord, []ReportList, uint32, bool) {
	var pool []ReportList
	seen := map[string]int{}

	intern := func(ids []uint32) uint32 {
		if len(ids) == 0 {
			return 0
		}
		key := reportKey(ids)
		if idx, ok := seen[key]; ok {
			return uint32(idx)
		}
		cp := append([]uint32(nil), ids...)
		pool = append(pool, ReportList{IDs: cp})
		idx := len(pool)
		seen[key] = idx
		return uint32(idx)
	}

	top := raw.TopSymbol()
	aux := make([]AuxRecord, len(implToRaw))
	union := map[uint32]struct{}{}

	for impl, rawID := range implToRaw {
		st := &raw.States[rawID]
		aux[impl].Accept = intern(st.Reports)
		aux[impl].AcceptEOD = intern(st.ReportsEOD)
		if rawID != rawdfa.DeadState {
			aux[impl].Top = uint32(rawToImpl[st.Next[top]])
		}
		for _, r := range st.Reports {
			union[r] = struct{}{}
		}
	}

	var arbReport uint32
	singleReport := len(union) == 1
	if singleReport {
		for r := range union {
			arbReport = r
		}
	}

	return aux, pool, arbReport, singleReport
}

func reportKey(ids []uint32) string {
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(strconv.FormatUint(uint64(id), 10))
		b.WriteByte(',')
	}
	return b.String()
}

func buildAccelPool(descs map[rawdfa.StateID]accel.Descriptor) ([]accel.Descriptor, map[rawdfa.StateID]int) {
	ids := make([]rawdfa.StateID, 0, len(descs))
	for id := range descs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	pool := make([]accel.Descriptor, 0, len(ids))
	index := make(map[rawdfa.StateID]int, len(ids))
	for _, id := range ids {
		pool = append(pool, descs[id])
		index[id] = len(pool) // 1-based
	}
	return pool, index
}

// buildMainTable materializes the plain (unflagged) impl-ID transition
// table for every main-table row: [0, rowCount). Rows are padded out to
// rowWidth (a power of two >= the real alphabet width); padding columns
// beyond the DFA's actual alphabet stay at impl ID 0, the dead state.
func buildMainTable(raw *rawdfa.DFA, implToRaw, rawToImpl []rawdfa.StateID, rowCount, rowWidth int) [][]uint16 {
	cells := make([][]uint16, rowCount)
	for impl := 0; impl < rowCount; impl++ {
		row := make([]uint16, rowWidth)
		rawRow := raw.States[implToRaw[impl]].Next
		for sym := 0; sym < len(rawRow) && sym < rowWidth; sym++ {
			row[sym] = uint16(rawToImpl[rawRow[sym]])
		}
		cells[impl] = row
	}
	return cells
}

// buildShermanRegion translates every promoted Sherman entry's raw daddy
// and targets into impl IDs, in ascending impl-ID order.
func buildShermanRegion(raw *rawdfa.DFA, implToRaw, rawToImpl []rawdfa.StateID, sherman map[rawdfa.StateID]ShermanEntry, shermanLimit int) []ShermanEntry {
	n := len(implToRaw) - shermanLimit
	if n <= 0 {
		return nil
	}
	out := make([]ShermanEntry, n)
	for impl := shermanLimit; impl < len(implToRaw); impl++ {
		rawID := implToRaw[impl]
		src := sherman[rawID]
		entry := ShermanEntry{
			Daddy:   rawToImpl[src.Daddy],
			Chars:   append([]byte(nil), src.Chars...),
			Targets: make([]rawdfa.StateID, len(src.Targets)),
		}
		for i, t := range src.Targets {
			entry.Targets[i] = rawToImpl[t]
		}
		out[impl-shermanLimit] = entry
	}
	return out
}

// markEdges is the flag-marking pass (§4.1 step 8): after every transition
// target is a resolved impl ID, OR in ACCEPT_FLAG/ACCEL_FLAG based on the
// target state's own aux record, so the scan loop can test accept/accel
// without a second memory access.
func markEdges(cells [][]uint16, aux []AuxRecord) {
	for _, row := range cells {
		for i, target := range row {
			row[i] = flagCell(target, aux)
		}
	}
}

func markShermanEdges(entries []ShermanEntry, aux []AuxRecord) {
	for e := range entries {
		for i, target := range entries[e].Targets {
			entries[e].Targets[i] = rawdfa.StateID(flagCell(uint16(target), aux))
		}
	}
}

func flagCell(target uint16, aux []AuxRecord) uint16 {
	a := aux[target]
	cell := target
	if a.Accept != 0 {
		cell |= AcceptFlag16
	}
	if a.AccelOffset != 0 {
		cell |= AccelFlag16
	}
	return cell
}

// serialize lays out the full blob byte-for-byte per §6's section order and
// alignments, returning the buffer plus the byte offset each section
// landed at.
func serialize(nfaHeader NFAHeader, header Header, variant Variant, rowWidth, mainRowCount int, cells [][]uint16, aux []AuxRecord, reportLists []ReportList, accelPool []accel.Descriptor, sherman []ShermanEntry) (data []byte, transTableOffset, auxOffset, accelOffset, shermanOffset, shermanEnd int) {
	var buf []byte

	buf = append(buf, byte(nfaHeader.Type))
	buf = putU32(buf, nfaHeader.Length)
	buf = putU32(buf, nfaHeader.NPositions)
	buf = putU32(buf, nfaHeader.StreamStateSize)
	buf = putU32(buf, nfaHeader.ScratchStateSize)
	buf = append(buf, nfaHeader.Flags)

	buf = append(buf, header.Remap[:]...)
	buf = append(buf, header.AlphaShift)
	buf = putU32(buf, header.AuxOffset)
	buf = putU32(buf, header.AccelOffset)
	buf = putU32(buf, header.ShermanOffset)
	buf = putU32(buf, header.ShermanEnd)
	buf = putU32(buf, header.ShermanLimit)
	buf = putU32(buf, header.StateCount)
	buf = putU32(buf, header.StartAnchored)
	buf = putU32(buf, header.StartFloating)
	buf = putU32(buf, header.ArbReport)
	buf = putBool(buf, header.HasAccel)
	buf = putU32(buf, header.AcceptLimit8)
	buf = putU32(buf, header.AccelLimit8)
	buf = append(buf, header.Flags)

	buf = appendPadding(buf, rowAlign)
	transTableOffset = len(buf)

	cellSize := 1
	if variant == Variant16 {
		cellSize = 2
	}
	for impl := 0; impl < mainRowCount; impl++ {
		row := cells[impl]
		for _, c := range row[:rowWidth] {
			if cellSize == 1 {
				buf = append(buf, byte(c))
			} else {
				buf = putU16(buf, c)
			}
		}
	}

	buf = appendPadding(buf, auxAlign)
	auxOffset = len(buf)
	for _, a := range aux {
		buf = putU32(buf, a.Accept)
		buf = putU32(buf, a.AcceptEOD)
		buf = putU32(buf, a.Top)
		buf = putU32(buf, a.AccelOffset)
	}

	for _, rl := range reportLists {
		buf = putU32(buf, uint32(len(rl.IDs)))
		for _, id := range rl.IDs {
			buf = putU32(buf, id)
		}
	}

	buf = appendPadding(buf, accelAlign)
	accelOffset = len(buf)
	for _, d := range accelPool {
		buf = putAccelRecord(buf, d)
	}

	if variant == Variant16 {
		buf = appendPadding(buf, shermanAlign)
		shermanOffset = len(buf)
		for _, e := range sherman {
			buf = append(buf, shermanStateTag)
			buf = append(buf, byte(len(e.Chars)))
			buf = putU16(buf, uint16(e.Daddy))
			buf = append(buf, e.Chars...)
			for _, t := range e.Targets {
				buf = putU16(buf, uint16(t))
			}
			buf = appendPadding(buf, shermanAlign)
		}
		shermanEnd = len(buf)
	}

	return buf, transTableOffset, auxOffset, accelOffset, shermanOffset, shermanEnd
}

// putAccelRecord writes one fixed-size accel pool entry: type, the
// DVERM/DShufti scalar fields, and the 256-bit ground-truth escape set,
// padded to accelRecordSize.
func putAccelRecord(buf []byte, d accel.Descriptor) []byte {
	start := len(buf)
	buf = append(buf, byte(d.Type), d.C, d.C1, d.C2)
	for b := 0; b < 256; b++ {
		byteIdx := b / 8
		for len(buf) <= start+4+byteIdx {
			buf = append(buf, 0)
		}
		if d.Outs.Test(byte(b)) {
			buf[start+4+byteIdx] |= 1 << uint(b%8)
		}
	}
	for len(buf)-start < accelRecordSize {
		buf = append(buf, 0)
	}
	return buf
}
