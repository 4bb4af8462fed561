// Package pypi provides an HTTP client for PyPI mirrors.
//
// # Overview
//
// A [Client] is bound to one mirror's simple index, for example
// https://pypi.tuna.tsinghua.edu.cn/simple. It reads project pages through
// the PEP 691 JSON form and falls back to PEP 503 HTML when the mirror
// doesn't negotiate JSON.
//
// # Usage
//
//	client := pypi.NewClient(src.URL, cache, nil)
//	project, err := client.Project(ctx, "requests", false)
//	if err != nil {
//	    return err
//	}
//	cand, err := project.Resolve("==2.31.0", "3.11")
//	// cand.File is a pure-python wheel, an sdist, or nil
//
// # Release Metadata
//
// [Client.FetchPackage] reads requires_dist from the JSON API that PyPI and
// most mirrors serve next to the simple index ("/simple" becomes "/pypi").
// The conflict walker uses it to build the requirement graph.
//
// # Caching
//
// Pages are cached per mirror: the disk cache is namespaced by index URL,
// so the same project fetched from two mirrors never shares an entry.
package pypi
