// Package querykey names every cache key the review client uses.
//
//	["files"]                      all files
//	["files", id]                  one file
//	["threads"]                    all threads
//	["threads", "file", fileID]    threads of one file
//	["summaries"]                  all summaries
//	["summaries", id]              one summary
//	["summaries", "thread", id]    summary of one thread
//	["task-status", id]            background task status
//	["health"]                     backend health check
package querykey

import "github.com/agentworkforce/reviewsync/internal/cache"

const (
	SpaceFiles      = "files"
	SpaceThreads    = "threads"
	SpaceSummaries  = "summaries"
	SpaceTaskStatus = "task-status"
	SpaceHealth     = "health"
)

func Files() cache.Key {
	return cache.NewKey(SpaceFiles)
}

func File(fileID string) cache.Key {
	return cache.NewKey(SpaceFiles, fileID)
}

func Threads() cache.Key {
	return cache.NewKey(SpaceThreads)
}

func Thread(threadID string) cache.Key {
	return cache.NewKey(SpaceThreads, threadID)
}

func ThreadsByFile(fileID string) cache.Key {
	return cache.NewKey(SpaceThreads, "file", fileID)
}

// ThreadList returns the key of the thread collection for fileID, or of all
// threads when fileID is empty.
func ThreadList(fileID string) cache.Key {
	if fileID == "" {
		return Threads()
	}
	return ThreadsByFile(fileID)
}

func Summaries() cache.Key {
	return cache.NewKey(SpaceSummaries)
}

func Summary(summaryID string) cache.Key {
	return cache.NewKey(SpaceSummaries, summaryID)
}

func SummaryByThread(threadID string) cache.Key {
	return cache.NewKey(SpaceSummaries, "thread", threadID)
}

func TaskStatus(taskID string) cache.Key {
	return cache.NewKey(SpaceTaskStatus, taskID)
}

func Health() cache.Key {
	return cache.NewKey(SpaceHealth)
}
