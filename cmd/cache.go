package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-search/internal/cache"
	"github.com/kozaktomas/face-search/internal/config"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Cache management commands",
	Long: `Commands for managing the face embedding cache (SQLite file at CACHE_PATH,
or PostgreSQL when DATABASE_URL is set).`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the number of cached images and faces",
	RunE:  runCacheStats,
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove cache entries of photos that no longer exist",
	RunE:  runCachePrune,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all cache entries",
	Long: `Remove all cached embeddings. The next search extracts every face again.

Examples:
  face-search cache clear --yes`,
	RunE: runCacheClear,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd, cachePruneCmd, cacheClearCmd)

	cacheStatsCmd.Flags().Bool("json", false, "Output as JSON")
	cacheClearCmd.Flags().Bool("yes", false, "Confirm removing all entries")
}

func openCache(ctx context.Context) (*cache.Cache, error) {
	cfg := config.Load()
	c, err := cache.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return c, nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	c, err := openCache(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	stats, err := c.Stats(ctx)
	if err != nil {
		return err
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(stats)
	}
	fmt.Printf("Cached images: %d\n", stats.Entries)
	fmt.Printf("Cached faces:  %d\n", stats.Faces)
	return nil
}

func runCachePrune(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	c, err := openCache(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	pruned, err := c.Prune(ctx, fileExists)
	if err != nil {
		return err
	}
	fmt.Printf("Pruned %d stale cache entries\n", pruned)
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	if !mustGetBool(cmd, "yes") {
		return errors.New("refusing to clear the cache without --yes")
	}

	ctx := context.Background()
	c, err := openCache(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Clear(ctx); err != nil {
		return err
	}
	fmt.Println("Cache cleared")
	return nil
}
