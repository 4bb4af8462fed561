// Package javascript implements [deps.Language] for npm: package.json
// manifests, "name@range" requirements and packument metadata from an npm
// registry mirror.
//
// package.json holds direct dependencies only. [deps.Registry] follows each
// version's "dependencies" and "peerDependencies" through the mirror;
// optional dependencies are not followed.
package javascript
