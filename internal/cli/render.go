package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"tgfiles/internal/api"
	"tgfiles/internal/speed"
	syncer "tgfiles/internal/sync"
)

func formatRate(rate float64) string {
	if rate <= 0 {
		return "0 B/s"
	}
	return humanize.Bytes(uint64(rate)) + "/s"
}

func formatFile(f *api.File, s speed.Sample) string {
	line := fmt.Sprintf("%-24s %-11s %6.1f%% %10s  %s",
		f.Key(), f.DownloadStatus, s.Progress, humanize.Bytes(uint64(max(f.Size, 0))), f.FileName)
	if f.DownloadStatus == api.DownloadDownloading {
		line += "  " + formatRate(s.Rate)
	}
	if f.CompletionDate > 0 {
		line += "  done " + humanize.Time(time.UnixMilli(f.CompletionDate))
	}
	return line
}

func printFiles(w io.Writer, files []api.File) {
	for i := range files {
		fmt.Fprintln(w, formatFile(&files[i], progressOf(&files[i])))
	}
}

// progressOf 仅根据快照字段估算进度
func progressOf(f *api.File) speed.Sample {
	switch {
	case f.DownloadStatus == api.DownloadCompleted:
		return speed.Sample{Progress: 100}
	case f.Size > 0:
		return speed.Sample{Progress: min(float64(f.DownloadedSize)/float64(f.Size)*100, 100)}
	default:
		return speed.Sample{}
	}
}

func printView(w io.Writer, v syncer.View) {
	fmt.Fprintf(w, "[%s] %d/%s files, account %s, filter %s",
		v.Status, len(v.Items), humanize.Comma(v.Count), formatRate(v.AccountRate), v.Filter.String())
	if v.Loading {
		fmt.Fprint(w, " (loading)")
	}
	if v.Err != nil {
		fmt.Fprintf(w, " error: %v", v.Err)
	}
	fmt.Fprintln(w)
	for i := range v.Items {
		fmt.Fprintln(w, formatFile(&v.Items[i].File, v.Items[i].Speed))
	}
}
