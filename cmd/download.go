package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/brogergvhs/mangarule/internal/chapters"
	"github.com/brogergvhs/mangarule/internal/config"
	"github.com/brogergvhs/mangarule/internal/downloader"
	"github.com/brogergvhs/mangarule/internal/manga"
	"github.com/brogergvhs/mangarule/internal/providers"
	"github.com/brogergvhs/mangarule/internal/store"
	"github.com/brogergvhs/mangarule/internal/ui"
	"github.com/brogergvhs/mangarule/internal/util"
)

var (
	// selection
	flagURL          string
	flagChapter      string
	flagRange        string
	flagList         string
	flagExcludeRange string
	flagExcludeList  string
	flagAllowExt     string

	// runtime
	flagOutput         string
	flagImageWorkers   int
	flagChapterWorkers int
	flagKeepFolders    bool
	flagDryRun         bool
	flagSkipBroken     bool

	// headers/auth
	flagCookie     string
	flagCookieFile string
	flagUserAgent  string
)

func init() {
	downloadCmd := &cobra.Command{
		Use:   "download [url]",
		Short: "Download manga chapters with the stored rules and produce CBZ files",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDownload,
	}

	// selection
	downloadCmd.Flags().StringVar(&flagURL, "url", "", "manga page URL")
	downloadCmd.Flags().StringVar(&flagChapter, "chapter", "", "download single chapter by label or index (e.g. 28.5 or 5)")
	downloadCmd.Flags().StringVar(&flagRange, "range", "", "download range of chapters by index (e.g. 5-12)")
	downloadCmd.Flags().StringVar(&flagList, "list", "", "download specific chapter indices (e.g. 1,3,5)")
	downloadCmd.Flags().StringVar(&flagExcludeRange, "exclude-range", "", "skip a range of chapter indices")
	downloadCmd.Flags().StringVar(&flagExcludeList, "exclude-list", "", "skip specific chapter indices")
	downloadCmd.Flags().StringVar(&flagAllowExt, "allow-ext", "", "allowed image extensions (e.g. \"webp|jpg|png\")")

	// runtime
	downloadCmd.Flags().StringVar(&flagOutput, "output", "", "base folder, overrides the manga_directory setting")
	downloadCmd.Flags().IntVar(&flagImageWorkers, "image-workers", 0, "parallel image downloads per chapter")
	downloadCmd.Flags().IntVar(&flagChapterWorkers, "chapter-workers", 0, "parallel chapter downloads")
	downloadCmd.Flags().BoolVar(&flagKeepFolders, "keep-folders", false, "keep temporary folders")
	downloadCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "show what would be downloaded, don't download")
	downloadCmd.Flags().BoolVar(&flagSkipBroken, "skip-broken", false, "skip failed images instead of failing the whole chapter")
	downloadCmd.Flags().BoolVar(&flagBrowser, "browser", false, "enable the headless browser for browser and auto rules")

	// headers/auth
	downloadCmd.Flags().StringVar(&flagCookie, "cookie", "", "cookie string, e.g. \"key=value; other=123\"")
	downloadCmd.Flags().StringVar(&flagCookieFile, "cookie-file", "", "path to a text file with cookies (one header line)")
	downloadCmd.Flags().StringVar(&flagUserAgent, "user-agent", "", "override User-Agent")

	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	opts := baseOptions()
	opts.ImageWorkers = flagImageWorkers
	opts.ChapterWorkers = flagChapterWorkers
	opts.KeepFolders = flagKeepFolders
	opts.SkipBroken = flagSkipBroken
	opts.Cookie = flagCookie
	opts.CookieFile = flagCookieFile
	opts.UserAgent = flagUserAgent
	opts.Browser = flagBrowser

	rt, err := newApp(opts)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg := rt.cfg

	if flagAllowExt != "" {
		cfg.AllowExt = splitExt(flagAllowExt)
	}

	mangaURL := flagURL
	if len(args) == 1 {
		mangaURL = args[0]
	}
	if mangaURL == "" {
		return errors.New("missing manga URL")
	}

	ctx, stop := util.InterruptContext(cmd.Context())
	defer stop()

	scr := providers.NewRuleScraper(rt.store, rt.engine,
		providers.WithLogger(rt.log.Zap()),
		providers.WithAllowedExt(cfg.AllowExt))

	m, err := scr.GetManga(ctx, mangaURL)
	if err != nil {
		return err
	}
	all := chapters.FromManga(m)
	rt.log.Infof("%s: %d chapters on the site", m.Title, len(all))

	selected, err := chapters.Filter(all, chapters.Selection{
		Chapter:      flagChapter,
		Range:        flagRange,
		List:         flagList,
		ExcludeRange: flagExcludeRange,
		ExcludeList:  flagExcludeList,
	})
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		return errors.New("no chapters selected")
	}

	base, err := downloadBase(ctx, rt.store, flagOutput, cfg)
	if err != nil {
		return err
	}
	outDir := filepath.Join(base, chapters.SafeDirName(m.Title, chapters.DefaultDirLen))

	if flagDryRun {
		fmt.Printf("Dry-run: %d chapters selected, output %s\n\n", len(selected), outDir)
		for _, ch := range selected {
			fmt.Printf("%3d) %s\n     %s -> %s\n", ch.Index, ch.Label(), ch.ChapterID, ch.OutputCBZ())
		}
		return nil
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("cannot create output folder: %w", err)
	}

	dl := downloader.New(rt.client,
		downloader.WithLogger(rt.log.Zap()),
		downloader.WithSkipBroken(cfg.SkipBroken),
		downloader.WithTimeout(cfg.HTTP.Timeout()),
		downloader.WithRetries(cfg.HTTP.Retries+1, time.Second),
		downloader.WithRateLimit(cfg.HTTP.RatePerSec, cfg.HTTP.Burst))

	job := chapterJob{
		cfg:    cfg,
		log:    rt.log,
		scr:    scr,
		dl:     dl,
		manga:  m,
		mangaU: mangaURL,
		outDir: outDir,
		pm:     ui.NewProgressManager(os.Stdout),
		stats:  &ui.Stats{},
	}
	start := time.Now()

	sem := make(chan struct{}, cfg.ChapterWorkers)
	var wg sync.WaitGroup
	for _, ch := range selected {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			job.run(ctx, ch)
		}()
	}
	wg.Wait()
	job.pm.Close()

	if ctx.Err() != nil {
		rt.log.Warnf("Interrupt received. Cleaning up...")
		util.CleanupUnfinishedTempFolders(outDir, rt.log.Zap())
		util.RemoveIfEmpty(outDir, rt.log.Zap())
		return ctx.Err()
	}

	fmt.Println()
	fmt.Println("Download Summary:", job.stats.Summary(time.Since(start)))
	if n := job.stats.Failed.Load(); n > 0 {
		return fmt.Errorf("%d chapters failed", n)
	}
	return nil
}

// downloadBase prefers --output, then the manga_directory setting, then
// the config output.
func downloadBase(ctx context.Context, st *store.Store, flag string, cfg *config.Config) (string, error) {
	if flag != "" {
		return flag, nil
	}
	dir, ok, err := st.Get(ctx, store.KeyMangaDirectory)
	if err != nil {
		return "", err
	}
	if ok && strings.TrimSpace(dir) != "" {
		return dir, nil
	}
	return cfg.Output, nil
}

type chapterJob struct {
	cfg    *config.Config
	log    *ui.Logger
	scr    providers.Scraper
	dl     *downloader.Downloader
	manga  *manga.MangaData
	mangaU string
	outDir string
	pm     *ui.MPBProgressManager
	stats  *ui.Stats
}

func (j *chapterJob) run(ctx context.Context, ch chapters.Chapter) {
	images, err := j.scr.GetPages(ctx, j.mangaU, ch.ChapterID)
	if err != nil {
		if ctx.Err() == nil {
			j.log.Errorf("No images for %s: %v", ch.Label(), err)
			j.stats.Failed.Add(1)
		}
		return
	}

	handle := j.pm.Register("Ch."+ch.Label(), len(images))
	tmpFolder := filepath.Join(j.outDir, ch.FolderName())
	cbzOut := ch.OutputCBZPath(j.outDir)

	referer := ch.ChapterID
	if !strings.HasPrefix(referer, "http") {
		referer = j.mangaU
	}

	files, bytes, err := j.dl.Download(ctx, images, tmpFolder, referer, j.cfg.ImageWorkers, handle)
	if err != nil {
		if ctx.Err() == nil {
			j.log.Errorf("Chapter %s failed: %v", ch.Label(), err)
			j.stats.Failed.Add(1)
			util.CleanupFolder(tmpFolder)
		}
		return
	}

	var info *util.ComicInfo
	if j.cfg.ComicInfo {
		info = &util.ComicInfo{
			Title:       ch.ChapterTitle,
			Series:      j.manga.Title,
			Number:      ch.Chapter,
			Volume:      ch.Volume,
			Web:         ch.ChapterID,
			LanguageISO: ch.Language,
		}
	}
	if err := util.CreateCBZ(files, cbzOut, info); err != nil {
		j.log.Errorf("CBZ for %s failed: %v", ch.Label(), err)
		j.stats.Failed.Add(1)
		util.CleanupFolder(tmpFolder)
		return
	}

	if !j.cfg.KeepFolders {
		util.CleanupFolder(tmpFolder)
	}
	j.stats.AddChapter(len(files), bytes)
}

func splitExt(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == '|' || r == ',' || r == ' '
	})

	out := []string{}
	for _, f := range fields {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
