// Package sandbox runs per-domain extraction routines inside an isolated
// goja runtime with a hard deadline.
//
// A routine is the body of an async function receiving two capabilities:
//
//	async function(page, util) {
//	    const el = await page.waitForSelector(".price");
//	    return { price: util.parsePrice(page.text(el)), discount: undefined };
//	}
//
// The awaited return value must be an object with exactly the keys price and
// discount. Anything else, a thrown error or an expired deadline fails the
// whole extraction.
package sandbox
