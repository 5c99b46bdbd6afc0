// Package crawler implements the crawl engine for Madara-themed sites: the
// listing walk and detail scrape (CollectionCrawler), asset download
// (UnitCrawler), source registration, and the queue executor that routes
// claimed work to them. Persistence, fetching, storage, merging and publishing
// are reached through the interfaces declared here.
package crawler
