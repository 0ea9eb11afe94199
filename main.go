package main

import "github.com/alexferrari88/localize-assets/cmd"

/*

localize-assets: offline copy of a single web page

Usage:
  localize-assets [html-file] [flags]
  localize-assets [command]

Available Commands:
  version     Print the version number of localize-assets

Flags:
      --assets-dir string      Directory assets are saved to (default "assets")
      --site string            Site the page was saved from, sent as Referer
      --base string            Base URL used to resolve relative references
      --cdn-path string        Path prefix of the site's CDN (default "/cdn/")
      --user-agent string      User-Agent header (default "Mozilla/5.0")
  -x, --proxy string           Specify the proxy url
      --timeout duration       Per-request timeout (default 20s)
      --max-redirects int      Maximum redirects followed per asset (default 5)
      --retries int            Extra attempts for transient failures
  -r, --rate float             Maximum requests per second
      --progress               Show a progress bar
  -v, --verbose                Enable verbose output

Every flag can also be set through a LOCALIZE_* environment variable,
e.g. LOCALIZE_SITE=https://www.example.com.

Examples:

  # Localize ./index.html
  localize-assets

  # Localize a saved page, telling it where it came from
  localize-assets saved/page.html --site https://www.example.com --base https://www.example.com/page/

*/

func main() {
	cmd.Execute()
}
