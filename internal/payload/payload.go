// Package payload runs the protection engine over files, in fixed-size
// chunks so recordings larger than memory stay processable.
package payload

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"example.com/difgate/internal/common"
	"example.com/difgate/internal/dif"
)

// DefaultChunkBlocks is the number of blocks processed per read when the
// caller does not choose a chunk size.
const DefaultChunkBlocks = 1024

var ErrPartialBlock = errors.New("file size is not a multiple of the block size")

// clampChunk normalizes the chunk size, substituting the default for
// zero and capping it so the chunk byte count cannot wrap a uint32.
func clampChunk(chunkBlocks, blockSize uint32) uint32 {
	if chunkBlocks == 0 {
		chunkBlocks = DefaultChunkBlocks
	}
	if max := uint32(math.MaxUint32) / blockSize; chunkBlocks > max {
		chunkBlocks = max
	}
	return chunkBlocks
}

// BlockCount returns the number of whole blocks in a file of the given
// size, or ErrPartialBlock when the size does not divide evenly.
func BlockCount(fileSize int64, blockSize uint32) (uint32, error) {
	if blockSize == 0 {
		return 0, errors.New("zero block size")
	}
	if fileSize%int64(blockSize) != 0 {
		return 0, fmt.Errorf("%w: %d bytes with %d-byte blocks", ErrPartialBlock, fileSize, blockSize)
	}
	return uint32(fileSize / int64(blockSize)), nil
}

// absError rebases a per-chunk block offset onto the whole file.
func absError(err error, chunkStart uint32) error {
	var difErr *dif.Error
	if errors.As(err, &difErr) {
		abs := *difErr
		abs.Offset += chunkStart
		return &abs
	}
	return err
}

// VerifyFile checks the protection fields of every block in the file,
// returning the number of verified blocks and the first mismatch with
// its block offset rebased onto the file. The context's data offset is
// repositioned per chunk, so reference tags stay continuous across the
// whole file.
func VerifyFile(ctx *dif.Context, path string, chunkBlocks uint32, m *common.Metrics) (uint32, error) {
	chunkBlocks = clampChunk(chunkBlocks, ctx.BlockSize())
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return 0, err
	}
	numBlocks, err := BlockCount(stat.Size(), ctx.BlockSize())
	if err != nil {
		return 0, err
	}
	if m != nil {
		m.SetTotalBytes(stat.Size())
	}

	dbs := ctx.DataBlockSize()
	buf := make([]byte, chunkBlocks*ctx.BlockSize())
	var done uint32
	for done < numBlocks {
		n := chunkBlocks
		if numBlocks-done < n {
			n = numBlocks - done
		}
		chunk := buf[:n*ctx.BlockSize()]
		if _, err := io.ReadFull(f, chunk); err != nil {
			return done, err
		}
		ctx.SetDataOffset(done * dbs)
		if err := ctx.Verify([][]byte{chunk}, n); err != nil {
			if m != nil {
				m.IncMismatch()
			}
			return done, absError(err, done)
		}
		done += n
		if m != nil {
			m.AddBlocks(int64(n), int64(len(chunk)))
		}
	}
	return done, nil
}

// VerifyFileFindings checks every block of the file and collects all
// mismatches instead of stopping at the first one. Verification resumes
// at the block after each mismatch. maxFindings caps the collection;
// zero means no cap.
func VerifyFileFindings(ctx *dif.Context, path string, chunkBlocks uint32, m *common.Metrics, maxFindings int) ([]*dif.Error, uint32, error) {
	chunkBlocks = clampChunk(chunkBlocks, ctx.BlockSize())
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	numBlocks, err := BlockCount(stat.Size(), ctx.BlockSize())
	if err != nil {
		return nil, 0, err
	}
	if m != nil {
		m.SetTotalBytes(stat.Size())
	}

	dbs := ctx.DataBlockSize()
	bs := ctx.BlockSize()
	var findings []*dif.Error
	buf := make([]byte, chunkBlocks*bs)
	var done uint32
	for done < numBlocks {
		n := chunkBlocks
		if numBlocks-done < n {
			n = numBlocks - done
		}
		chunk := buf[:n*bs]
		if _, err := io.ReadFull(f, chunk); err != nil {
			return findings, done, err
		}
		start := uint32(0)
		for start < n {
			ctx.SetDataOffset((done + start) * dbs)
			err := ctx.Verify([][]byte{chunk[start*bs:]}, n-start)
			if err == nil {
				break
			}
			var difErr *dif.Error
			if !errors.As(err, &difErr) {
				return findings, done + start, err
			}
			abs := *difErr
			abs.Offset += done + start
			findings = append(findings, &abs)
			if m != nil {
				m.IncMismatch()
			}
			if maxFindings > 0 && len(findings) >= maxFindings {
				return findings, abs.Offset + 1, nil
			}
			start = start + difErr.Offset + 1
		}
		done += n
		if m != nil {
			m.AddBlocks(int64(n), int64(len(chunk)))
		}
	}
	return findings, done, nil
}

// GenerateFile computes and inserts protection fields for every block of
// the file, rewriting it in place chunk by chunk.
func GenerateFile(ctx *dif.Context, path string, chunkBlocks uint32, m *common.Metrics) (uint32, error) {
	chunkBlocks = clampChunk(chunkBlocks, ctx.BlockSize())
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return 0, err
	}
	numBlocks, err := BlockCount(stat.Size(), ctx.BlockSize())
	if err != nil {
		return 0, err
	}
	if m != nil {
		m.SetTotalBytes(stat.Size())
	}

	dbs := ctx.DataBlockSize()
	buf := make([]byte, chunkBlocks*ctx.BlockSize())
	var done uint32
	for done < numBlocks {
		n := chunkBlocks
		if numBlocks-done < n {
			n = numBlocks - done
		}
		chunk := buf[:n*ctx.BlockSize()]
		off := int64(done) * int64(ctx.BlockSize())
		if _, err := f.ReadAt(chunk, off); err != nil {
			return done, err
		}
		ctx.SetDataOffset(done * dbs)
		if err := ctx.Generate([][]byte{chunk}, n); err != nil {
			return done, absError(err, done)
		}
		if _, err := f.WriteAt(chunk, off); err != nil {
			return done, err
		}
		done += n
		if m != nil {
			m.AddBlocks(int64(n), int64(len(chunk)))
		}
	}
	return done, f.Sync()
}

// RemapFile rewrites the reference tags of every block to the sequence
// anchored at newInitRefTag, optionally checking the existing tags
// first.
func RemapFile(ctx *dif.Context, path string, newInitRefTag uint64, checkRefTag bool, chunkBlocks uint32) (uint32, error) {
	chunkBlocks = clampChunk(chunkBlocks, ctx.BlockSize())
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return 0, err
	}
	numBlocks, err := BlockCount(stat.Size(), ctx.BlockSize())
	if err != nil {
		return 0, err
	}

	dbs := ctx.DataBlockSize()
	ctx.SetRemappedInitRefTag(newInitRefTag)
	buf := make([]byte, chunkBlocks*ctx.BlockSize())
	var done uint32
	for done < numBlocks {
		n := chunkBlocks
		if numBlocks-done < n {
			n = numBlocks - done
		}
		chunk := buf[:n*ctx.BlockSize()]
		off := int64(done) * int64(ctx.BlockSize())
		if _, err := f.ReadAt(chunk, off); err != nil {
			return done, err
		}
		ctx.SetDataOffset(done * dbs)
		if err := ctx.RemapRefTag([][]byte{chunk}, n, checkRefTag); err != nil {
			return done, absError(err, done)
		}
		if _, err := f.WriteAt(chunk, off); err != nil {
			return done, err
		}
		done += n
	}
	return done, f.Sync()
}

// FileCRC32C folds the data bytes of every block into a CRC-32C,
// skipping protection fields and extra metadata.
func FileCRC32C(ctx *dif.Context, path string, chunkBlocks uint32) (uint32, error) {
	chunkBlocks = clampChunk(chunkBlocks, ctx.BlockSize())
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return 0, err
	}
	numBlocks, err := BlockCount(stat.Size(), ctx.BlockSize())
	if err != nil {
		return 0, err
	}

	var crc32c uint32
	buf := make([]byte, chunkBlocks*ctx.BlockSize())
	var done uint32
	for done < numBlocks {
		n := chunkBlocks
		if numBlocks-done < n {
			n = numBlocks - done
		}
		chunk := buf[:n*ctx.BlockSize()]
		if _, err := io.ReadFull(f, chunk); err != nil {
			return crc32c, err
		}
		crc32c, err = ctx.UpdateCRC32C([][]byte{chunk}, n, crc32c)
		if err != nil {
			return crc32c, err
		}
		done += n
	}
	return crc32c, nil
}
