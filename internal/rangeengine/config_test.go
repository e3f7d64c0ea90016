package rangeengine

import "testing"

func TestPartitionRaisesChunkSizeToHonorMinChunks(t *testing.T) {
	// 1 GiB file, 4 threads -> min_chunks = 8; file_size/min_chunks
	// (128 MiB) exceeds the nominal 10 MiB chunk, so the chunk size is
	// raised to 128 MiB and the file splits into exactly min_chunks chunks.
	fileSize := int64(1024 * 1024 * 1024)
	chunkSize, numChunks := partition(fileSize, 4, 10*1024*1024)

	if numChunks != 8 {
		t.Fatalf("expected exactly 8 chunks, got %d (chunkSize=%d)", numChunks, chunkSize)
	}
	if chunkSize != 128*1024*1024 {
		t.Fatalf("expected chunk size raised to 128 MiB, got %d", chunkSize)
	}
}

func TestPartitionNeverBelowOneMiB(t *testing.T) {
	// Tiny file, huge thread count: file_size/min_chunks is far below the
	// nominal chunk size, so no raise happens and the 1 MiB floor holds.
	chunkSize, numChunks := partition(1024, 64, 10*1024*1024)

	if chunkSize < minChunkSize {
		t.Fatalf("chunk size floor violated: got %d", chunkSize)
	}
	if numChunks < 1 {
		t.Fatalf("expected at least one chunk")
	}
}

func TestPartitionKeepsNominalSizeWhenFileIsLarge(t *testing.T) {
	// 64 MiB file, 4 threads, 10 MiB nominal chunk: min_chunks=8 and
	// file_size/min_chunks (8 MiB) does not exceed the nominal chunk
	// size, so the nominal size should be kept.
	fileSize := int64(64 * 1024 * 1024)
	chunkSize, _ := partition(fileSize, 4, 10*1024*1024)

	if chunkSize != 10*1024*1024 {
		t.Fatalf("expected nominal 10 MiB chunk size to be kept, got %d", chunkSize)
	}
}

func TestOptionsDefaults(t *testing.T) {
	var o Options
	if o.threadCount() <= 0 {
		t.Fatalf("expected a positive default thread count")
	}
	if o.chunkSizeBytes() != defaultChunkSizeMB*1024*1024 {
		t.Fatalf("expected default chunk size of %d MiB", defaultChunkSizeMB)
	}
	if o.stallTimeout() != defaultStallTimeout {
		t.Fatalf("expected default stall timeout")
	}
}
