// Package storage stages downloaded media on disk until it is delivered.
//
// Every delivery gets its own Batch, a private subdirectory of the staging
// directory. Files are written atomically (temporary file and rename) and
// named {owner}_{shortcode}_{index}.{jpg|mp4}. Once the media has been sent
// the whole batch is removed with Cleanup. Sweep clears files left behind by
// a previous run.
//
// Usage:
//
//	manager, err := storage.NewManager(cfg.Download.StagingDirectory)
//	if err != nil {
//	    return err
//	}
//
//	batch, err := manager.NewBatch(post.Shortcode)
//	if err != nil {
//	    return err
//	}
//	defer batch.Cleanup()
//
//	path, err := batch.Stage(bytes.NewReader(data),
//	    storage.FileName(post.Owner, post.Shortcode, 0, models.MediaPhoto))
package storage
