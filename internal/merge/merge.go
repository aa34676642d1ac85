// Package merge joins cached thread and summary collections into the view
// threads the rest of the client renders.
package merge

import (
	"sync"

	"github.com/agentworkforce/reviewsync/internal/api"
	"github.com/agentworkforce/reviewsync/internal/cache"
)

// ViewThread is a thread with at most one summary. Summary stays nil until
// a summary with the same thread id has been loaded.
type ViewThread struct {
	api.Thread
	Summary *api.Summary
}

type Result struct {
	Threads []ViewThread
	// Loading is true while either collection's first fetch is outstanding.
	Loading      bool
	ThreadsErr   error
	SummariesErr error
}

// Merge annotates every thread with its summary. When several summaries
// share a thread id the first one wins. The result always has one entry per
// thread.
func Merge(threads []api.Thread, summaries []api.Summary) []ViewThread {
	byThread := make(map[string]int, len(summaries))
	for i, s := range summaries {
		if _, dup := byThread[s.ThreadID]; !dup {
			byThread[s.ThreadID] = i
		}
	}
	out := make([]ViewThread, len(threads))
	for i, thread := range threads {
		out[i] = ViewThread{Thread: thread}
		if idx, ok := byThread[thread.ThreadID]; ok {
			summary := summaries[idx]
			out[i].Summary = &summary
		}
	}
	return out
}

// Source is one cached collection and the fetcher that fills it.
type Source struct {
	Key   cache.Key
	Fetch cache.Fetcher
}

// Current composes the view from whatever both collections hold right now.
func Current(store *cache.Store, threadsKey, summariesKey cache.Key) Result {
	var res Result
	threadsEntry, _ := store.Entry(threadsKey)
	summariesEntry, _ := store.Entry(summariesKey)

	var threads []api.Thread
	if threadsEntry.HasValue {
		switch v := threadsEntry.Value.(type) {
		case api.ThreadsResponse:
			threads = v.Threads
		case []api.Thread:
			threads = v
		}
	} else {
		res.ThreadsErr = threadsEntry.Err
	}
	var summaries []api.Summary
	if summariesEntry.HasValue {
		summaries, _ = summariesEntry.Value.([]api.Summary)
	} else {
		res.SummariesErr = summariesEntry.Err
	}

	res.Loading = pending(threadsEntry) || pending(summariesEntry)
	res.Threads = Merge(threads, summaries)
	return res
}

func pending(e cache.Entry) bool {
	return !e.HasValue && e.Err == nil
}

// Watch subscribes to both collections and calls onChange with a fresh
// Result after every change to either one. The returned function
// unsubscribes.
func Watch(store *cache.Store, threads, summaries Source, onChange func(Result)) (stop func()) {
	var mu sync.Mutex
	stopped := false
	emit := func(cache.Entry) {
		res := Current(store, threads.Key, summaries.Key)
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		onChange(res)
	}
	threadSub := store.Subscribe(threads.Key, threads.Fetch, emit)
	summarySub := store.Subscribe(summaries.Key, summaries.Fetch, emit)
	return func() {
		threadSub.Unsubscribe()
		summarySub.Unsubscribe()
		mu.Lock()
		stopped = true
		mu.Unlock()
	}
}
