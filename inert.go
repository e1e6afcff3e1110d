package packvfs

// The methods in this file exist for callers written against filesystems
// that stream content or preload resources. Everything here is local, so
// they report that all work is already done.

// WaitForResourcesHandle identifies a resource wait request.
type WaitForResourcesHandle int

// InterfaceVersion names the filesystem implementation.
func (fsys *FileSystem) InterfaceVersion() string {
	return "Stdio"
}

// Mount does nothing.
func (fsys *FileSystem) Mount() {}

// Unmount does nothing.
func (fsys *FileSystem) Unmount() {}

// GetLocalCopy does nothing; every file is already local.
func (fsys *FileSystem) GetLocalCopy(name string) {}

// GetReadBuffer never provides a buffer. Callers fall back to Read.
func (fsys *FileSystem) GetReadBuffer(h *Handle, failIfNotInCache bool) []byte {
	return nil
}

// ReleaseReadBuffer does nothing.
func (fsys *FileSystem) ReleaseReadBuffer(h *Handle, buf []byte) {}

// HintResourceNeed ignores the hint list.
func (fsys *FileSystem) HintResourceNeed(hintList string, forgetEverything bool) int {
	return 0
}

// PauseResourcePreloading does nothing.
func (fsys *FileSystem) PauseResourcePreloading() int {
	return 0
}

// ResumeResourcePreloading does nothing.
func (fsys *FileSystem) ResumeResourcePreloading() int {
	return 0
}

// WaitForResources returns a handle that is complete immediately.
func (fsys *FileSystem) WaitForResources(resourceList string) WaitForResourcesHandle {
	return 0
}

// GetWaitForResourcesProgress reports zero progress and completion. The
// result is false since no wait is ever in progress.
func (fsys *FileSystem) GetWaitForResourcesProgress(handle WaitForResourcesHandle) (progress float32, complete bool, ok bool) {
	return 0, true, false
}

// CancelWaitForResources does nothing.
func (fsys *FileSystem) CancelWaitForResources(handle WaitForResourcesHandle) {}

// IsFileImmediatelyAvailable always reports true.
func (fsys *FileSystem) IsFileImmediatelyAvailable(name string) bool {
	return true
}

// IsAppReadyForOfflinePlay always reports true.
func (fsys *FileSystem) IsAppReadyForOfflinePlay(appID int) bool {
	return true
}

// LogLevelLoadStarted does nothing.
func (fsys *FileSystem) LogLevelLoadStarted(name string) {}

// LogLevelLoadFinished does nothing.
func (fsys *FileSystem) LogLevelLoadFinished(name string) {}
