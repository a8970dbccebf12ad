package payload

import (
	"encoding/hex"
	"fmt"
	"math/rand"
	"os"

	"example.com/difgate/internal/common"
	"example.com/difgate/internal/dif"
)

// InjectResult describes one fault written into a payload file.
type InjectResult struct {
	Block     uint32
	Offset    int64
	BeforeHex string
	AfterHex  string
}

// InjectFile flips one bit of the requested field in a single block of
// the file and records the change in the audit log when one is given.
// block selects the target, or dif.InjectAnyBlock for a random one.
func InjectFile(ctx *dif.Context, path string, flags dif.InjectFlags, block int, plog *common.PatchLog) (InjectResult, error) {
	var res InjectResult
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return res, err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return res, err
	}
	numBlocks, err := BlockCount(stat.Size(), ctx.BlockSize())
	if err != nil {
		return res, err
	}
	if numBlocks == 0 {
		return res, fmt.Errorf("empty payload %s", path)
	}
	target := uint32(block)
	if block == dif.InjectAnyBlock {
		target = uint32(rand.Intn(int(numBlocks)))
	} else if block < 0 || target >= numBlocks {
		return res, fmt.Errorf("inject block %d out of range (%d blocks)", block, numBlocks)
	}

	// Only the target block is read and rewritten; the injection runs
	// on it as a one-block payload.
	blk := make([]byte, ctx.BlockSize())
	off := int64(target) * int64(ctx.BlockSize())
	if _, err := f.ReadAt(blk, off); err != nil {
		return res, err
	}
	before := make([]byte, len(blk))
	copy(before, blk)

	ctx.SetDataOffset(target * ctx.DataBlockSize())
	if _, err := ctx.InjectError([][]byte{blk}, 1, flags, 0); err != nil {
		return res, err
	}
	if _, err := f.WriteAt(blk, off); err != nil {
		return res, err
	}
	if err := f.Sync(); err != nil {
		return res, err
	}

	changed := changedRange(before, blk)
	res = InjectResult{
		Block:     target,
		Offset:    off + int64(changed),
		BeforeHex: hex.EncodeToString(before[changed : changed+1]),
		AfterHex:  hex.EncodeToString(blk[changed : changed+1]),
	}
	if plog != nil {
		if err := plog.Append(common.PatchEntry{
			Op:        "inject",
			Field:     flags.String(),
			Block:     target,
			Offset:    res.Offset,
			BeforeHex: res.BeforeHex,
			AfterHex:  res.AfterHex,
		}); err != nil {
			return res, err
		}
	}
	return res, nil
}

// changedRange returns the offset of the first differing byte, or 0
// when nothing changed.
func changedRange(before, after []byte) int {
	for i := range before {
		if before[i] != after[i] {
			return i
		}
	}
	return 0
}
