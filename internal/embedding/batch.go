package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/gammazero/workerpool"
)

// BatchProcessor 并行批量嵌入处理器
// 知识库全量重建时把大量文本切成小批并行向量化
type BatchProcessor struct {
	client     Client // 嵌入客户端
	batchSize  int    // 每批处理的文本数量
	maxWorkers int    // 最大并行工作协程数
}

// NewBatchProcessor 创建新的批处理器
func NewBatchProcessor(client Client, batchSize int, maxWorkers int) *BatchProcessor {
	if batchSize <= 0 {
		batchSize = 16
	}
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	return &BatchProcessor{
		client:     client,
		batchSize:  batchSize,
		maxWorkers: maxWorkers,
	}
}

// Process 并行向量化一组文本，结果顺序与输入一致
// 空文本的结果位置为nil
func (p *BatchProcessor) Process(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	// 过滤空文本，记录原始位置
	var nonEmpty []string
	var positions []int
	for i, text := range texts {
		if text != "" {
			nonEmpty = append(nonEmpty, text)
			positions = append(positions, i)
		}
	}

	results := make([][]float32, len(texts))
	if len(nonEmpty) == 0 {
		return results, nil
	}

	batches := splitIntoBatches(nonEmpty, p.batchSize)

	wp := workerpool.New(p.maxWorkers)
	var mu sync.Mutex
	batchVectors := make([][][]float32, len(batches))
	var processingErr error
	var errOnce sync.Once

	for i, batch := range batches {
		i, batch := i, batch
		wp.Submit(func() {
			select {
			case <-ctx.Done():
				errOnce.Do(func() { processingErr = ctx.Err() })
				return
			default:
			}

			vectors, err := p.client.EmbedBatch(ctx, batch)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				errOnce.Do(func() {
					processingErr = fmt.Errorf("batch %d processing error: %v", i, err)
				})
				return
			}
			batchVectors[i] = vectors
		})
	}

	wp.StopWait()

	if processingErr != nil {
		return nil, processingErr
	}

	// 把批次结果写回原始位置
	cursor := 0
	for _, vectors := range batchVectors {
		for _, vec := range vectors {
			if cursor < len(positions) {
				results[positions[cursor]] = vec
				cursor++
			}
		}
	}

	return results, nil
}

// splitIntoBatches 将文本列表分割成多个批次
func splitIntoBatches(texts []string, batchSize int) [][]string {
	if batchSize <= 0 {
		batchSize = 1
	}

	batches := make([][]string, 0, (len(texts)+batchSize-1)/batchSize)
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, texts[i:end])
	}
	return batches
}
