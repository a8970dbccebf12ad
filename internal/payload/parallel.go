package payload

import (
	"errors"
	"os"
	"sync"

	"example.com/difgate/internal/common"
	"example.com/difgate/internal/dif"
)

type chunkResult struct {
	findings []*dif.Error
	done     uint32
	err      error
}

// VerifyFileFindingsParallel is VerifyFileFindings with the chunks
// spread over a pool of workers. A context carries per-chunk offset
// state, so every worker gets its own from newCtx. Findings come back
// in block order regardless of which worker produced them; with a
// findings cap the workers may scan past it, but the merged result is
// trimmed the same way the serial path stops.
func VerifyFileFindingsParallel(newCtx func() (*dif.Context, error), path string, chunkBlocks uint32, workers int, m *common.Metrics, maxFindings int) ([]*dif.Error, uint32, error) {
	if workers <= 1 {
		ctx, err := newCtx()
		if err != nil {
			return nil, 0, err
		}
		return VerifyFileFindings(ctx, path, chunkBlocks, m, maxFindings)
	}
	ctxs := make([]*dif.Context, workers)
	for w := range ctxs {
		ctx, err := newCtx()
		if err != nil {
			return nil, 0, err
		}
		ctxs[w] = ctx
	}
	bs := ctxs[0].BlockSize()
	chunkBlocks = clampChunk(chunkBlocks, bs)

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	numBlocks, err := BlockCount(stat.Size(), bs)
	if err != nil {
		return nil, 0, err
	}
	if m != nil {
		m.SetTotalBytes(stat.Size())
	}

	numChunks := (numBlocks + chunkBlocks - 1) / chunkBlocks
	results := make([]chunkResult, numChunks)
	jobs := make(chan uint32)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(ctx *dif.Context) {
			defer wg.Done()
			buf := make([]byte, chunkBlocks*bs)
			for idx := range jobs {
				results[idx] = verifyChunk(ctx, f, buf, idx, chunkBlocks, numBlocks, m)
			}
		}(ctxs[w])
	}
	for idx := uint32(0); idx < numChunks; idx++ {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	var findings []*dif.Error
	var done uint32
	for i := range results {
		r := &results[i]
		findings = append(findings, r.findings...)
		if r.err != nil {
			return findings, done, r.err
		}
		done += r.done
		if maxFindings > 0 && len(findings) >= maxFindings {
			findings = findings[:maxFindings]
			return findings, findings[maxFindings-1].Offset + 1, nil
		}
	}
	return findings, done, nil
}

// verifyChunk runs the resume-after-mismatch loop over one chunk,
// reading through ReadAt so workers can share the file handle.
func verifyChunk(ctx *dif.Context, f *os.File, buf []byte, idx, chunkBlocks, numBlocks uint32, m *common.Metrics) chunkResult {
	bs := ctx.BlockSize()
	dbs := ctx.DataBlockSize()
	chunkStart := idx * chunkBlocks
	n := chunkBlocks
	if numBlocks-chunkStart < n {
		n = numBlocks - chunkStart
	}
	chunk := buf[:n*bs]
	if _, err := f.ReadAt(chunk, int64(chunkStart)*int64(bs)); err != nil {
		return chunkResult{err: err}
	}

	var res chunkResult
	start := uint32(0)
	for start < n {
		ctx.SetDataOffset((chunkStart + start) * dbs)
		err := ctx.Verify([][]byte{chunk[start*bs:]}, n-start)
		if err == nil {
			break
		}
		var difErr *dif.Error
		if !errors.As(err, &difErr) {
			res.err = err
			return res
		}
		abs := *difErr
		abs.Offset += chunkStart + start
		res.findings = append(res.findings, &abs)
		if m != nil {
			m.IncMismatch()
		}
		start = start + difErr.Offset + 1
	}
	res.done = n
	if m != nil {
		m.AddBlocks(int64(n), int64(len(chunk)))
	}
	return res
}
