package sync

import "tgfiles/internal/api"

// allowed 决策函数：根据合并后的文件状态判断操作是否可执行
func allowed(op OpType, f *api.File) bool {
	switch op {
	case OpStart:
		// 1. 没有稳定标识的文件后端无法定位
		if f.UniqueID == "" {
			return false
		}
		// 2. 只能从空闲或失败状态开始
		return f.DownloadStatus == api.DownloadIdle || f.DownloadStatus == api.DownloadError
	case OpTogglePause:
		return f.DownloadStatus == api.DownloadDownloading || f.DownloadStatus == api.DownloadPaused
	case OpRemove:
		return f.DownloadStatus == api.DownloadCompleted
	case OpCancel:
		return true
	}
	return false
}

// pauseTarget 切换暂停时要发送的 isPaused
// 正在下载则暂停，否则恢复
func pauseTarget(f *api.File) bool {
	return f.DownloadStatus == api.DownloadDownloading
}

// cancellable 批量取消时只处理进行中的下载
func cancellable(f *api.File) bool {
	return f.DownloadStatus == api.DownloadDownloading || f.DownloadStatus == api.DownloadPaused
}
