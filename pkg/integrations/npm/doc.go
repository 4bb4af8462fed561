// Package npm provides an HTTP client for npm registry mirrors.
//
// # Usage
//
//	client := npm.NewClient("https://registry.npmmirror.com", cache, nil)
//	m, err := client.FetchVersion(ctx, "react", "^18.2.0", false)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(m.Version, m.Dist.Tarball)
//
// Packuments are requested in the abbreviated install format. [Dist.Digest]
// turns "dist.integrity" (or the older sha1 "shasum") into a digest the
// downloader verifies.
//
// # Version Selection
//
// [Packument.Resolve] follows npm: dist-tags resolve directly, and a range
// prefers the "latest" tag when it satisfies the range.
package npm
