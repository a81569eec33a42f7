package config

// WorkerKeyStruct names the Redis lists consumed by background workers.
type WorkerKeyStruct struct {
	PurgeBlobsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PurgeBlobsQueue: "purge_blobs_queue",
}
